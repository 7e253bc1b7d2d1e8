// Package soundproc is the workhorse that pulls decoded PCM through the
// FIR convolution engine one fixed-size fragment at a time, and the
// bounded pool that recycles that state across opens of the same
// resolved filter configuration.
package soundproc

import (
	"fmt"
	"os"
	"time"

	"github.com/convofs/convofs/internal/convolve"
)

// ErrInputBufferFull is returned by FillBuffer when the fragment's input
// window is already full; the caller must WriteProcessed first.
var ErrInputBufferFull = fmt.Errorf("soundproc: input buffer already full, call WriteProcessed first")

// Processor is bound to a single resolved filter config file and its
// modification time, so a pool can tell whether a returned processor's
// filter is still current.
type Processor struct {
	engine       *convolve.Engine
	configFile   string
	configStamp  time.Time
	channels     int
	fragmentSize int

	buffer         []float32 // fragmentSize*channels, interleaved
	inputPos       int
	outputPos      int // -1 means "not processed since the last fill"
	maxOutputValue float32
}

func newProcessor(engine *convolve.Engine, configFile string, stamp time.Time, channels, fragmentSize int) *Processor {
	p := &Processor{
		engine:       engine,
		configFile:   configFile,
		configStamp:  stamp,
		channels:     channels,
		fragmentSize: fragmentSize,
		buffer:       make([]float32, fragmentSize*channels),
	}
	p.Reset()
	return p
}

func (p *Processor) ConfigFile() string { return p.configFile }

// Channels is the number of channels this processor's filter produces;
// input and output share one interleaved buffer, so it is also the
// number of input channels it consumes.
func (p *Processor) Channels() int { return p.channels }

// ConfigFileTimestamp is the modification time this processor's filter
// config had when it was built, used to validate a gapless hand-off is
// joining a processor built from the exact same config.
func (p *Processor) ConfigFileTimestamp() time.Time { return p.configStamp }

// ConfigStillUpToDate reports whether the on-disk config this processor
// was built from hasn't been modified since.
func (p *Processor) ConfigStillUpToDate() bool {
	info, err := os.Stat(p.configFile)
	if err != nil {
		return false
	}
	return info.ModTime().Equal(p.configStamp)
}

// IsInputBufferComplete reports whether the fragment window is full and
// ready for WriteProcessed/Process.
func (p *Processor) IsInputBufferComplete() bool { return p.inputPos == p.fragmentSize }

// PendingWrites is how many processed samples remain to be drained via
// WriteProcessed, typically handed over when gaplessly passing this
// processor's state to the next track.
func (p *Processor) PendingWrites() int {
	if p.outputPos < 0 {
		return 0
	}
	return p.fragmentSize - p.outputPos
}

// FillBuffer pulls frames from reader into the remaining space of the
// current fragment, returning the number of frames added.
func (p *Processor) FillBuffer(reader *FrameReader) (int, error) {
	samplesNeeded := p.fragmentSize - p.inputPos
	if samplesNeeded == 0 {
		return 0, ErrInputBufferFull
	}
	p.outputPos = -1
	n, err := reader.ReadFloat32(p.buffer[p.inputPos*p.channels:], samplesNeeded)
	p.inputPos += n
	return n, err
}

// WriteProcessed drains sampleCount processed samples (interleaved)
// into dst, running the convolution first if the current fragment
// hasn't been processed yet.
func (p *Processor) WriteProcessed(dst []float32, sampleCount int) {
	if p.outputPos < 0 {
		p.process()
	}
	start := p.outputPos * p.channels
	end := (p.outputPos + sampleCount) * p.channels
	copy(dst, p.buffer[start:end])
	p.outputPos += sampleCount
	if p.outputPos == p.fragmentSize {
		p.inputPos = 0
	}
}

func (p *Processor) process() {
	if missing := p.fragmentSize - p.inputPos; missing > 0 {
		for i := p.inputPos * p.channels; i < p.fragmentSize*p.channels; i++ {
			p.buffer[i] = 0
		}
	}

	// Flatten interleaved channels into the engine's per-channel
	// scratch buffers, run the filter, then join them back.
	for ch := 0; ch < p.channels; ch++ {
		dest := p.engine.InputChannel(ch)
		for j := 0; j < p.fragmentSize; j++ {
			dest[j] = p.buffer[j*p.channels+ch]
		}
	}

	p.engine.Process()

	for ch := 0; ch < p.channels; ch++ {
		source := p.engine.OutputChannel(ch)
		for j := 0; j < p.fragmentSize; j++ {
			v := source[j]
			p.buffer[j*p.channels+ch] = v
			if abs := absf32(v); abs > p.maxOutputValue {
				p.maxOutputValue = abs
			}
		}
	}
	p.outputPos = 0
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// MaxOutputValue is the highest absolute sample value this processor has
// observed on its output, used to warn about clipping.
func (p *Processor) MaxOutputValue() float32 { return p.maxOutputValue }

func (p *Processor) ResetMaxValues() { p.maxOutputValue = 0 }

// Reset clears all convolution and position state for reuse, as if the
// processor had just been created.
func (p *Processor) Reset() {
	p.engine.Reset()
	p.inputPos = 0
	p.outputPos = -1
	p.ResetMaxValues()
}
