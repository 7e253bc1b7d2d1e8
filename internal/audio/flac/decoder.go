// Package flac wraps github.com/drgolem/go-flac to satisfy the
// internal/audio Decoder/Encoder contracts.
package flac

import (
	"fmt"

	goflac "github.com/drgolem/go-flac/flac"

	"github.com/convofs/convofs/internal/audio"
)

// decodeBits is the bit depth we ask go-flac to hand samples back in.
// 24 bit keeps headroom for 16/24-bit sources alike; the convolution
// pipeline itself always works in float32 regardless.
const decodeBits = 24

// Decoder wraps goflac.FlacDecoder. Implements audio.Decoder.
type Decoder struct {
	decoder  *goflac.FlacDecoder
	format   audio.Format
	flacPath string
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Open(fileName string) error {
	decoder, err := goflac.NewFlacFrameDecoder(decodeBits)
	if err != nil {
		return fmt.Errorf("flac: create decoder: %w", err)
	}
	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("%w: %s: %v", audio.ErrNotASoundFile, fileName, err)
	}

	rate, channels, bits := decoder.GetFormat()
	d.decoder = decoder
	d.flacPath = fileName
	d.format = audio.Format{SampleRate: rate, Channels: channels, BitsPerSample: bits}
	return nil
}

func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

func (d *Decoder) Format() audio.Format { return d.format }

func (d *Decoder) DecodeFrames(frames int, buf []byte) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("flac: decoder not open")
	}
	n, err := d.decoder.DecodeSamples(frames, buf)
	if err != nil {
		return n, fmt.Errorf("flac: decode: %w", err)
	}
	return n, nil
}
