// Package convolve is the FIR convolution kernel: given per-channel
// impulse responses and a fixed fragment size, it turns N input channel
// buffers into N output channel buffers of equal length, carrying
// convolution state across fragment boundaries.
//
// There is no suitable third-party streaming FIR engine among the
// retrieved examples (the original project used the C zita-convolver
// library, which has no Go equivalent in the example pack), so this is
// implemented directly; see DESIGN.md.
package convolve

import (
	"fmt"
	"sync"
)

// configureMu mirrors a known threading bug in the FIR library this
// project is modelled on: building up convolution state concurrently on
// two goroutines corrupted internal state. Every Engine construction
// takes this process-wide lock even though our implementation has no
// such bug itself, matching the pool's documented workaround so filter
// switches under load behave the same way operators have come to expect.
var configureMu sync.Mutex

// Engine runs one independent FIR filter per channel, accumulating a
// history tail so each new fragment convolves correctly across the
// boundary with the previous one (overlap via a per-channel delay line).
type Engine struct {
	fragmentSize int
	channels     int
	taps         [][]float32
	history      [][]float32
	in           [][]float32
	out          [][]float32
}

// New builds an Engine from a per-channel tap matrix. len(taps) must
// equal channels; a channel with no taps passes its input through
// untouched (an effective unit impulse).
func New(taps [][]float32, fragmentSize, channels int) (*Engine, error) {
	configureMu.Lock()
	defer configureMu.Unlock()

	if len(taps) != channels {
		return nil, fmt.Errorf("convolve: tap matrix has %d channels, want %d", len(taps), channels)
	}

	e := &Engine{
		fragmentSize: fragmentSize,
		channels:     channels,
		taps:         make([][]float32, channels),
		history:      make([][]float32, channels),
		in:           make([][]float32, channels),
		out:          make([][]float32, channels),
	}
	for ch := 0; ch < channels; ch++ {
		t := taps[ch]
		if len(t) == 0 {
			t = []float32{1}
		}
		e.taps[ch] = t
		e.history[ch] = make([]float32, len(t)-1)
		e.in[ch] = make([]float32, fragmentSize)
		e.out[ch] = make([]float32, fragmentSize)
	}
	return e, nil
}

// InputChannel returns the fixed-size scratch buffer the caller fills
// with this fragment's samples for channel ch before calling Process.
func (e *Engine) InputChannel(ch int) []float32 { return e.in[ch] }

// OutputChannel returns channel ch's convolved output after Process.
func (e *Engine) OutputChannel(ch int) []float32 { return e.out[ch] }

// Process convolves every channel's current input fragment against its
// tap vector, carrying state from the previous fragment via each
// channel's history tail.
func (e *Engine) Process() {
	for ch := 0; ch < e.channels; ch++ {
		e.processChannel(ch)
	}
}

func (e *Engine) processChannel(ch int) {
	taps := e.taps[ch]
	history := e.history[ch]
	in := e.in[ch]
	out := e.out[ch]
	histLen := len(history)

	for n := 0; n < e.fragmentSize; n++ {
		var acc float32
		for k := 0; k < len(taps); k++ {
			idx := n - k
			var sample float32
			switch {
			case idx >= 0:
				sample = in[idx]
			case histLen+idx >= 0:
				sample = history[histLen+idx]
			}
			acc += taps[k] * sample
		}
		out[n] = acc
	}

	if histLen == 0 {
		return
	}
	if e.fragmentSize >= histLen {
		copy(history, in[e.fragmentSize-histLen:])
	} else {
		copy(history, history[e.fragmentSize:])
		copy(history[histLen-e.fragmentSize:], in)
	}
}

// Reset clears every channel's history tail, as if the engine had just
// been constructed. Input/output scratch buffers are left as-is; the
// caller always refills InputChannel before the next Process.
func (e *Engine) Reset() {
	for ch := range e.history {
		for i := range e.history[ch] {
			e.history[ch][i] = 0
		}
	}
}
