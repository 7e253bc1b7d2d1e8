// Package ogg wraps github.com/jfreymuth/oggvorbis to satisfy the
// internal/audio Decoder contract. Like WAV, OGG is decode-only: the
// output codec is always FLAC.
package ogg

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jfreymuth/oggvorbis"

	"github.com/convofs/convofs/internal/audio"
)

// outputBits is the PCM depth DecodeFrames quantizes the decoder's
// float32 samples to. OGG input always re-encodes to 16-bit FLAC, so
// there is no benefit in carrying more precision downstream.
const outputBits = 16

type Decoder struct {
	file   *os.File
	reader *oggvorbis.Reader
	format audio.Format

	// scratch holds float32 samples read from the vorbis decoder ahead
	// of quantizing them into the caller's byte buffer.
	scratch []float32
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("ogg: open: %w", err)
	}

	reader, err := oggvorbis.NewReader(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: %s: %v", audio.ErrNotASoundFile, fileName, err)
	}

	d.file = file
	d.reader = reader
	d.format = audio.Format{
		SampleRate:    reader.SampleRate(),
		Channels:      reader.Channels(),
		BitsPerSample: outputBits,
	}
	return nil
}

func (d *Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func (d *Decoder) Format() audio.Format { return d.format }

func (d *Decoder) DecodeFrames(frames int, buf []byte) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("ogg: decoder not open")
	}

	channels := d.format.Channels
	need := frames * channels
	if cap(d.scratch) < need {
		d.scratch = make([]float32, need)
	}
	scratch := d.scratch[:need]

	total := 0
	for total < need {
		n, err := d.reader.Read(scratch[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total / channels, fmt.Errorf("ogg: decode: %w", err)
		}
		if n == 0 {
			break
		}
	}

	decodedFrames := total / channels
	for i := 0; i < decodedFrames*channels; i++ {
		v := scratch[i]
		buf[i*2] = byte(quantize16(v))
		buf[i*2+1] = byte(quantize16(v) >> 8)
	}
	return decodedFrames, nil
}

func quantize16(f float32) int16 {
	v := f * 32767.0
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
