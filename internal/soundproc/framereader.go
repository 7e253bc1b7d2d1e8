package soundproc

import "github.com/convofs/convofs/internal/audio"

// decodeChunkFrames bounds how many frames we ask the decoder for at a
// time when topping up the staging ring.
const decodeChunkFrames = 4096

// FrameReader bridges a Decoder's native-bit-depth output to the
// normalized float32 samples the convolution engine expects. Decoders
// routinely hand back fewer frames per call than a fixed-size FIR
// fragment wants, so decoded chunks are staged through a PCMFrameRing
// and drained frame-by-frame across as many ReadFloat32 calls as it
// takes to fill one fragment.
type FrameReader struct {
	dec      audio.Decoder
	channels int
	bits     int
	ring     *PCMFrameRing
	scratch  []byte

	current   PCMFrame
	consumed  int
	exhausted bool
}

func NewFrameReader(dec audio.Decoder) *FrameReader {
	format := dec.Format()
	bytesPerSample := format.BitsPerSample / 8
	return &FrameReader{
		dec:      dec,
		channels: format.Channels,
		bits:     format.BitsPerSample,
		ring:     NewPCMFrameRing(4),
		scratch:  make([]byte, decodeChunkFrames*format.Channels*bytesPerSample),
	}
}

// ReadFloat32 writes up to wantFrames frames of interleaved, normalized
// float32 samples into dst and returns how many frames it actually
// wrote. Fewer than wantFrames means the decoder is exhausted.
func (f *FrameReader) ReadFloat32(dst []float32, wantFrames int) (int, error) {
	written := 0
	for written < wantFrames {
		if f.consumed >= f.current.Frames {
			if !f.advance() {
				break
			}
		}
		avail := f.current.Frames - f.consumed
		take := min(avail, wantFrames-written)
		unpackFloat32(dst[written*f.channels:], f.current.Audio, f.consumed, take, f.channels, f.bits)
		f.consumed += take
		written += take
	}
	return written, nil
}

// advance pops the next staged chunk off the ring, decoding a fresh one
// first if the ring has run dry.
func (f *FrameReader) advance() bool {
	if f.ring.AvailableRead() == 0 {
		if f.exhausted {
			return false
		}
		n, err := f.dec.DecodeFrames(decodeChunkFrames, f.scratch)
		if err != nil || n == 0 {
			f.exhausted = true
			return false
		}
		bytesPerSample := f.bits / 8
		chunk := PCMFrame{
			Format: FrameFormat{Channels: f.channels, BitsPerSample: f.bits},
			Frames: n,
			Audio:  append([]byte(nil), f.scratch[:n*f.channels*bytesPerSample]...),
		}
		f.ring.Write([]PCMFrame{chunk})
	}

	frames, err := f.ring.Read(1)
	if err != nil || len(frames) == 0 {
		return false
	}
	f.current = frames[0]
	f.consumed = 0
	return true
}

func unpackFloat32(dst []float32, audioBytes []byte, frameOffset, frames, channels, bits int) {
	bytesPerSample := bits / 8
	base := frameOffset * channels * bytesPerSample
	norm := normalizer(bits)
	for i := 0; i < frames*channels; i++ {
		off := base + i*bytesPerSample
		var v int32
		switch bits {
		case 16:
			v = int32(int16(uint16(audioBytes[off]) | uint16(audioBytes[off+1])<<8))
		case 24:
			u := uint32(audioBytes[off]) | uint32(audioBytes[off+1])<<8 | uint32(audioBytes[off+2])<<16
			if u&0x800000 != 0 {
				u |= 0xFF000000
			}
			v = int32(u)
		case 32:
			v = int32(uint32(audioBytes[off]) | uint32(audioBytes[off+1])<<8 | uint32(audioBytes[off+2])<<16 | uint32(audioBytes[off+3])<<24)
		}
		dst[i] = float32(v) / norm
	}
}

func normalizer(bits int) float32 {
	switch bits {
	case 16:
		return 32768.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 1
	}
}
