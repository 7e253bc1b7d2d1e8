// Package audio defines the decode/encode contracts the convolution
// pipeline is built against, and dispatches to a concrete codec by file
// extension and magic bytes.
package audio

import "errors"

// Kind identifies a recognised audio container.
type Kind int

const (
	// Unknown is returned by Probe for anything that isn't FLAC/WAV/OGG.
	Unknown Kind = iota
	FLAC
	WAV
	OGG
)

func (k Kind) String() string {
	switch k {
	case FLAC:
		return "FLAC"
	case WAV:
		return "WAV"
	case OGG:
		return "OGG"
	default:
		return "unknown"
	}
}

// Format describes the PCM shape of a decoded (or to-be-encoded) stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Frames        int64 // total frame count if known, 0 otherwise
}

// ErrNotASoundFile is returned by a Decoder's Open when the underlying
// bytes are not a file the decoder recognises.
var ErrNotASoundFile = errors.New("audio: not a recognised sound file")

// Decoder reads interleaved PCM frames out of a single audio file.
//
// A "frame" is one sample per channel. DecodeFrames writes into audio in
// the decoder's native bit depth, interleaved, and returns the number of
// frames actually decoded (which may be less than requested, including
// zero without error on a clean end of stream).
type Decoder interface {
	Open(fileName string) error
	Close() error
	Format() Format
	DecodeFrames(frames int, audio []byte) (int, error)
}

// Sink is the byte-level virtual I/O an Encoder writes its container
// into. It mirrors the original libsndfile virtual I/O contract: the
// encoder only ever appends and occasionally patches already-written
// bytes, it never needs to read back.
type Sink interface {
	Append(data []byte) (int, error)
	WriteByteAt(b byte, offset int64)
	Tell() int64
}

// Encoder writes interleaved PCM frames into a Sink, producing a
// container of the given Kind. Encoders are not seekable: once opened,
// frames are written strictly forward.
type Encoder interface {
	// Open begins a new stream against sink with the given output format.
	// Implementations write (or prepare to write) a container header.
	Open(sink Sink, format Format) error
	EncodeFrames(audio []byte, frames int) error
	Close() error
}

// Probe sniffs fileName's extension and leading bytes to decide which
// codec should handle it. It does not fully open the file.
func Probe(fileName string) Kind {
	return probe(fileName)
}
