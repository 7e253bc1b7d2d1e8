package audio

import (
	"fmt"

	"github.com/convofs/convofs/internal/audio/flac"
	"github.com/convofs/convofs/internal/audio/ogg"
	"github.com/convofs/convofs/internal/audio/wav"
)

// OpenDecoder probes fileName and returns an opened Decoder for it, or
// ErrNotASoundFile if the container isn't one of FLAC/WAV/OGG.
func OpenDecoder(fileName string) (Decoder, error) {
	var decoder Decoder

	switch Probe(fileName) {
	case FLAC:
		decoder = flac.NewDecoder()
	case WAV:
		decoder = wav.NewDecoder()
	case OGG:
		decoder = ogg.NewDecoder()
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotASoundFile, fileName)
	}

	if err := decoder.Open(fileName); err != nil {
		return nil, err
	}
	return decoder, nil
}

// OutputKindFor returns the container a source of kind src is re-encoded
// into. The recognised format set always converges on FLAC: native FLAC
// input is re-encoded FLAC-to-FLAC (so the convolved stream can still
// exploit lossless compression), OGG and WAV both upgrade to FLAC.
func OutputKindFor(src Kind) (Kind, error) {
	switch src {
	case FLAC, WAV, OGG:
		return FLAC, nil
	default:
		return Unknown, fmt.Errorf("audio: no output mapping for %s", src)
	}
}

// NewEncoder returns a fresh, unopened Encoder for kind.
func NewEncoder(kind Kind) (Encoder, error) {
	switch kind {
	case FLAC:
		return flac.NewEncoder(), nil
	default:
		return nil, fmt.Errorf("audio: no encoder for %s", kind)
	}
}

// OutputBitsFor mirrors the original's format policy: OGG input is
// widened to 16-bit FLAC (vorbis never carries more precision), WAV
// input is widened to 24-bit FLAC headroom, and FLAC input keeps its
// own bit depth.
func OutputBitsFor(src Kind, srcBits int) int {
	switch src {
	case OGG:
		return 16
	case WAV:
		return 24
	default:
		return srcBits
	}
}
