// Package convbuffer provides a file-backed buffer that is filled on
// demand by a SoundSource as readers ask for bytes beyond what has been
// produced so far. It is the single serialization point between the
// convolution producer and any number of concurrent readers of the same
// logical output file.
package convbuffer

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// SoundSource is implemented by the component that knows how to keep
// feeding a ConversionBuffer more bytes: ask it to decode, convolve and
// encode another chunk via AddMoreSoundData. It reports SetOutputSink
// once, immediately after the buffer is constructed, so the source can
// start writing its header before the first real Read arrives.
type SoundSource interface {
	SetOutputSink(buf *ConversionBuffer)

	// AddMoreSoundData produces another chunk of output and returns true
	// if there may be more to come, false once the source is exhausted.
	AddMoreSoundData() bool
}

// ConversionBuffer is a growable, file-backed view onto the output of a
// single in-progress conversion. Many readers (many open file handles on
// the same logical file) can Read concurrently; exactly one producer
// drives AddMoreSoundData, serialized by fillMu so two readers racing
// past the current end don't both try to produce.
type ConversionBuffer struct {
	source SoundSource
	file   *os.File
	writer *writeCoalescer

	writesEnabled atomic.Bool
	totalWritten  atomic.Int64
	headerEnd     atomic.Int64
	maxAccessed   atomic.Int64
	fileComplete  atomic.Bool

	fillMu sync.Mutex
}

// New creates a conversion buffer backed by an unlinked temporary file —
// it never appears in any directory and is reclaimed by the OS the
// moment the last handle to it closes. source.SetOutputSink is called
// before New returns, since the source may want to append header bytes
// immediately.
func New(source SoundSource) (*ConversionBuffer, error) {
	f, err := os.CreateTemp("", "convofs-conv-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("convbuffer: create backing file: %w", err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("convbuffer: unlink backing file: %w", err)
	}

	cb := &ConversionBuffer{
		source: source,
		file:   f,
		writer: newWriteCoalescer(f),
	}
	cb.writesEnabled.Store(true)
	source.SetOutputSink(cb)
	return cb, nil
}

// RawAppend writes data unconditionally, regardless of the write gate.
// Used to splice in a verbatim, hand-generated header (e.g. a copied
// FLAC STREAMINFO block) ahead of turning the encoder loose.
func (cb *ConversionBuffer) RawAppend(data []byte) (int, error) {
	if err := cb.writer.write(data); err != nil {
		return 0, err
	}
	cb.totalWritten.Add(int64(len(data)))
	return len(data), nil
}

// Append implements audio.Sink. While writes are disabled it discards the
// bytes but still reports them as written, so an encoder that thinks it's
// writing its own header doesn't choke on a short write — the header was
// already produced some other way and handed to RawAppend instead.
func (cb *ConversionBuffer) Append(data []byte) (int, error) {
	if !cb.writesEnabled.Load() {
		return len(data), nil
	}
	return cb.RawAppend(data)
}

// WriteByteAt patches a single already-written byte, used for surgical
// in-place header edits (blocksize/framesize/sample-count fields) once
// their true value becomes known.
func (cb *ConversionBuffer) WriteByteAt(b byte, offset int64) {
	if err := cb.writer.Flush(); err != nil {
		return
	}
	cb.file.WriteAt([]byte{b}, offset)
}

func (cb *ConversionBuffer) Tell() int64 { return cb.totalWritten.Load() }

// SetWritesEnabled toggles the Append gate. Used to suppress the
// encoder's own header or footer writes when the caller wants to control
// those bytes directly via RawAppend/WriteByteAt.
func (cb *ConversionBuffer) SetWritesEnabled(enabled bool) { cb.writesEnabled.Store(enabled) }
func (cb *ConversionBuffer) WritesEnabled() bool           { return cb.writesEnabled.Load() }

// HeaderFinished marks the current file size as the boundary between
// header and sound data, changing how Read treats short reads past it.
func (cb *ConversionBuffer) HeaderFinished() { cb.headerEnd.Store(cb.totalWritten.Load()) }

// HeaderSize is the byte offset HeaderFinished was called at.
func (cb *ConversionBuffer) HeaderSize() int64 { return cb.headerEnd.Load() }

// FileSize is the current max file position: everything produced so far.
func (cb *ConversionBuffer) FileSize() int64 { return cb.totalWritten.Load() }

// MaxAccessed is the highest offset any reader has actually consumed.
func (cb *ConversionBuffer) MaxAccessed() int64 { return cb.maxAccessed.Load() }

// NotifyComplete marks the source exhausted without going through Read's
// usual FillUntil path, e.g. when a processor pool handoff determines
// there is nothing further to produce.
func (cb *ConversionBuffer) NotifyComplete() { cb.fileComplete.Store(true) }

func (cb *ConversionBuffer) IsComplete() bool { return cb.fileComplete.Load() }

// Close releases the backing file. Safe to call once all readers and the
// producer are done with this buffer.
func (cb *ConversionBuffer) Close() error {
	cb.writer.Flush()
	return cb.file.Close()
}

// fillUntil blocks, calling the source to produce more data, until either
// the buffer holds at least requiredMin bytes or the source reports it is
// exhausted. Concurrent callers serialize here so only one of them drives
// the source at a time; the rest simply wait for the lock and then find
// the condition already satisfied.
func (cb *ConversionBuffer) fillUntil(requiredMin int64) {
	cb.fillMu.Lock()
	defer cb.fillMu.Unlock()
	for !cb.fileComplete.Load() && cb.totalWritten.Load() < requiredMin {
		if !cb.source.AddMoreSoundData() {
			cb.fileComplete.Store(true)
			break
		}
	}
}

// FillUpTo drives the producer until the buffer holds at least goal
// bytes or the source is exhausted, returning whether it's now complete
// (either the source ran out, or the buffer already reached goal). Used
// by the background pre-buffer worker to make incremental progress
// without a reader waiting on it.
func (cb *ConversionBuffer) FillUpTo(goal int64) bool {
	cb.fillUntil(goal)
	return cb.fileComplete.Load() || cb.totalWritten.Load() >= goal
}

// Read serves up to len(buf) bytes starting at offset, blocking to
// produce more data first if necessary.
//
// Within the header region (offset < the position HeaderFinished()
// recorded), short reads are allowed: we only demand one more byte than
// offset, so a reader that only wants the header never triggers the
// convolution pipeline. Past the header, some players misbehave if they
// get fewer bytes than they asked for, so there we demand the full
// request be satisfied before reading.
func (cb *ConversionBuffer) Read(buf []byte, offset int64) (int, error) {
	requiredMin := offset + 1
	if offset >= cb.headerEnd.Load() {
		requiredMin = offset + int64(len(buf))
	}
	cb.fillUntil(requiredMin)

	if err := cb.writer.Flush(); err != nil {
		return 0, err
	}

	n, err := cb.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("convbuffer: read backing file: %w", err)
	}
	if n > 0 {
		newMax := offset + int64(n)
		for {
			old := cb.maxAccessed.Load()
			if newMax <= old || cb.maxAccessed.CompareAndSwap(old, newMax) {
				break
			}
		}
	}
	return n, nil
}
