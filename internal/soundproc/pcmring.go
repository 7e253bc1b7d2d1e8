package soundproc

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrInsufficientSpace is returned by Write when the ring is full.
	ErrInsufficientSpace = errors.New("soundproc: ring buffer full")
	// ErrInsufficientData is returned by Read when the ring is empty.
	ErrInsufficientData = errors.New("soundproc: ring buffer empty")
)

// PCMFrameRing is a lock-free single-producer/single-consumer ring
// buffer of PCMFrame values. It absorbs the mismatch between a decoder's
// native chunk size and the Processor's fixed FIR fragment size: decoded
// chunks are pushed in as they arrive and drained one at a time as the
// fragment window is filled.
type PCMFrameRing struct {
	buffer   []PCMFrame
	size     uint64
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

// NewPCMFrameRing creates a ring sized (rounded up to a power of 2) for
// capacity frames.
func NewPCMFrameRing(capacity uint64) *PCMFrameRing {
	capacity = nextPowerOf2(capacity)
	return &PCMFrameRing{
		buffer: make([]PCMFrame, capacity),
		size:   capacity,
		mask:   capacity - 1,
	}
}

func (rb *PCMFrameRing) AvailableWrite() uint64 {
	return rb.size - (rb.writePos.Load() - rb.readPos.Load())
}

func (rb *PCMFrameRing) AvailableRead() uint64 {
	return rb.writePos.Load() - rb.readPos.Load()
}

// Write pushes as many of frames as fit, returning how many were written.
func (rb *PCMFrameRing) Write(frames []PCMFrame) (int, error) {
	n := uint64(len(frames))
	if n == 0 {
		return 0, nil
	}
	toWrite := min(n, rb.AvailableWrite())
	if toWrite == 0 {
		return 0, ErrInsufficientSpace
	}

	writePos := rb.writePos.Load()
	for i := uint64(0); i < toWrite; i++ {
		rb.buffer[(writePos+i)&rb.mask] = frames[i]
	}
	rb.writePos.Store(writePos + toWrite)
	return int(toWrite), nil
}

// Read pops up to count frames.
func (rb *PCMFrameRing) Read(count int) ([]PCMFrame, error) {
	if count <= 0 {
		return nil, nil
	}
	available := rb.AvailableRead()
	if available == 0 {
		return nil, ErrInsufficientData
	}

	toRead := min(uint64(count), available)
	readPos := rb.readPos.Load()
	out := make([]PCMFrame, toRead)
	for i := uint64(0); i < toRead; i++ {
		out[i] = rb.buffer[(readPos+i)&rb.mask]
	}
	rb.readPos.Store(readPos + toRead)
	return out, nil
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
