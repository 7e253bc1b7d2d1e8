package convbuffer

import (
	"errors"
	"sync/atomic"
)

// errShortSpace/errShortData are the byteRing's own, adapted from the
// sibling project's single-producer/single-consumer ring buffer: the
// producer side refuses partial writes outright rather than blocking.
var (
	errShortSpace = errors.New("convbuffer: insufficient ring space")
	errShortData  = errors.New("convbuffer: insufficient ring data")
)

// byteRing is a lock-free SPSC ring buffer used by writeCoalescer to batch
// small encoder writes before they hit the backing file with a pwrite.
// Write must only be called by the producer goroutine driving FillUntil;
// drainInto must only be called from the same goroutine that flushes.
type byteRing struct {
	buffer   []byte
	size     uint64
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

func newByteRing(size uint64) *byteRing {
	size = nextPowerOf2(size)
	return &byteRing{buffer: make([]byte, size), size: size, mask: size - 1}
}

func (rb *byteRing) availableWrite() uint64 {
	return rb.size - (rb.writePos.Load() - rb.readPos.Load())
}

func (rb *byteRing) availableRead() uint64 {
	return rb.writePos.Load() - rb.readPos.Load()
}

// write appends data in full or returns errShortSpace without writing any
// of it; the caller (writeCoalescer) reacts by flushing and retrying.
func (rb *byteRing) write(data []byte) error {
	n := uint64(len(data))
	if n == 0 {
		return nil
	}
	if n > rb.availableWrite() {
		return errShortSpace
	}

	writePos := rb.writePos.Load()
	start := writePos & rb.mask
	end := (writePos + n) & rb.mask
	if end > start {
		copy(rb.buffer[start:end], data)
	} else {
		firstChunk := rb.size - start
		copy(rb.buffer[start:], data[:firstChunk])
		copy(rb.buffer[:end], data[firstChunk:])
	}
	rb.writePos.Store(writePos + n)
	return nil
}

// drainInto appends every available byte to dst and marks it consumed,
// for handing off to a single contiguous pwrite.
func (rb *byteRing) drainInto(dst []byte) []byte {
	available := rb.availableRead()
	if available == 0 {
		return dst
	}
	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + available) & rb.mask
	if end > start {
		dst = append(dst, rb.buffer[start:end]...)
	} else {
		dst = append(dst, rb.buffer[start:]...)
		dst = append(dst, rb.buffer[:end]...)
	}
	rb.readPos.Store(readPos + available)
	return dst
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
