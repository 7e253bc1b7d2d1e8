// Package wav wraps github.com/youpy/go-wav to satisfy the internal/audio
// Decoder contract. WAV is never an encode target: every recognised
// container convolves to FLAC output, so only decoding is implemented here.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	govwav "github.com/youpy/go-wav"

	"github.com/convofs/convofs/internal/audio"
)

type Decoder struct {
	file   *os.File
	reader *govwav.Reader
	format audio.Format
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("wav: open: %w", err)
	}

	reader := govwav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: %s: %v", audio.ErrNotASoundFile, fileName, err)
	}
	if format.AudioFormat != govwav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("wav: unsupported audio format %d (only PCM)", format.AudioFormat)
	}

	d.file = file
	d.reader = reader
	d.format = audio.Format{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
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
		return 0, fmt.Errorf("wav: decoder not open")
	}

	channels := d.format.Channels
	bytesPerSample := d.format.BitsPerSample / 8
	decoded := 0

	for decoded < frames {
		samples, err := d.reader.ReadSamples(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return decoded, nil
			}
			return decoded, fmt.Errorf("wav: read samples: %w", err)
		}
		if len(samples) == 0 {
			return decoded, nil
		}

		for ch := 0; ch < channels && ch < len(samples[0].Values); ch++ {
			value := samples[0].Values[ch]
			offset := (decoded*channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(buf) {
				return decoded, nil
			}
			switch d.format.BitsPerSample {
			case 8:
				buf[offset] = byte(value)
			case 16:
				buf[offset] = byte(value)
				buf[offset+1] = byte(value >> 8)
			case 24:
				buf[offset] = byte(value)
				buf[offset+1] = byte(value >> 8)
				buf[offset+2] = byte(value >> 16)
			case 32:
				buf[offset] = byte(value)
				buf[offset+1] = byte(value >> 8)
				buf[offset+2] = byte(value >> 16)
				buf[offset+3] = byte(value >> 24)
			default:
				return decoded, fmt.Errorf("wav: unsupported bit depth %d", d.format.BitsPerSample)
			}
		}
		decoded++
	}
	return decoded, nil
}
