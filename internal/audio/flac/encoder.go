package flac

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/convofs/convofs/internal/audio"
)

// compressionLevel mirrors libFLAC's own default (5): a pragmatic middle
// ground, since the convolution pipeline re-encodes on every cold read
// and a slower level would show up directly as read latency.
const compressionLevel = 5

// Encoder wraps goflac.FlacEncoder in stream mode, forwarding every byte
// the libFLAC write callback produces straight into an audio.Sink.
// Implements audio.Encoder.
type Encoder struct {
	enc  *goflac.FlacEncoder
	sink audio.Sink
	fmt  audio.Format
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Open(sink audio.Sink, format audio.Format) error {
	enc, err := goflac.NewFlacEncoder(format.SampleRate, format.Channels, format.BitsPerSample)
	if err != nil {
		return fmt.Errorf("flac: new encoder: %w", err)
	}
	if err := enc.SetCompressionLevel(compressionLevel); err != nil {
		enc.Close()
		return fmt.Errorf("flac: set compression: %w", err)
	}
	if err := enc.InitStream(); err != nil {
		enc.Close()
		return fmt.Errorf("flac: init stream: %w", err)
	}

	e.enc = enc
	e.sink = sink
	e.fmt = format

	return e.drain()
}

// drain forwards whatever the C write callback has accumulated since the
// last call into the sink. It must be called after every operation that
// can make libFLAC emit bytes: InitStream, ProcessInterleaved, Finish.
func (e *Encoder) drain() error {
	b := e.enc.TakeBytes()
	if len(b) == 0 {
		return nil
	}
	if _, err := e.sink.Append(b); err != nil {
		return fmt.Errorf("flac: sink append: %w", err)
	}
	return nil
}

func (e *Encoder) EncodeFrames(pcm []byte, frames int) error {
	if e.enc == nil {
		return fmt.Errorf("flac: encoder not open")
	}
	if frames <= 0 {
		return nil
	}

	samples, err := unpackInterleaved(pcm, frames*e.fmt.Channels, e.fmt.BitsPerSample)
	if err != nil {
		return err
	}
	if err := e.enc.ProcessInterleaved(samples, frames); err != nil {
		return fmt.Errorf("flac: process interleaved: %w", err)
	}
	return e.drain()
}

func (e *Encoder) Close() error {
	if e.enc == nil {
		return nil
	}
	finishErr := e.enc.Finish()
	drainErr := e.drain()
	e.enc.Close()
	e.enc = nil
	if finishErr != nil {
		return fmt.Errorf("flac: finish: %w", finishErr)
	}
	return drainErr
}

// unpackInterleaved converts little-endian packed PCM bytes at bits-per-
// sample into the right-justified int32 samples libFLAC's interleaved
// API expects.
func unpackInterleaved(pcm []byte, count, bits int) ([]int32, error) {
	bytesPerSample := bits / 8
	if len(pcm) < count*bytesPerSample {
		return nil, fmt.Errorf("flac: short pcm buffer: need %d bytes, have %d", count*bytesPerSample, len(pcm))
	}

	out := make([]int32, count)
	for i := 0; i < count; i++ {
		off := i * bytesPerSample
		switch bits {
		case 16:
			v := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
			out[i] = int32(v)
		case 24:
			v := uint32(pcm[off]) | uint32(pcm[off+1])<<8 | uint32(pcm[off+2])<<16
			if v&0x800000 != 0 {
				v |= 0xFF000000
			}
			out[i] = int32(v)
		case 32:
			v := uint32(pcm[off]) | uint32(pcm[off+1])<<8 | uint32(pcm[off+2])<<16 | uint32(pcm[off+3])<<24
			out[i] = int32(v)
		default:
			return nil, fmt.Errorf("flac: unsupported bit depth %d", bits)
		}
	}
	return out, nil
}
