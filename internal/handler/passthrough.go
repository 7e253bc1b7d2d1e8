package handler

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/convofs/convofs/internal/soundproc"
)

// PassThroughHandler serves the underlying file byte-for-byte, used for
// anything that isn't a recognised sound file or for which no filter
// configuration could be found.
type PassThroughHandler struct {
	file     *os.File
	fileSize int64
	stats    Stats

	maxAccessed atomic.Int64
}

// NewPassThroughHandler opens path and wraps it for verbatim reads.
// known carries whatever the caller already learned trying to recognise
// the file (e.g. a decode error message) so it still shows up on the
// status page.
func NewPassThroughHandler(path string, known Stats) (*PassThroughHandler, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	known.FilterDir = ""
	known.Status = Open
	h := &PassThroughHandler{
		file:     f,
		fileSize: info.Size(),
		stats:    known,
	}
	return h, nil
}

func (h *PassThroughHandler) FilterDir() string { return "" }

func (h *PassThroughHandler) Read(buf []byte, offset int64) (int, error) {
	n, err := h.file.ReadAt(buf, offset)
	if n > 0 {
		newMax := offset + int64(n)
		for {
			old := h.maxAccessed.Load()
			if newMax <= old || h.maxAccessed.CompareAndSwap(old, newMax) {
				break
			}
		}
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (h *PassThroughHandler) Stat() (FileInfo, error) {
	info, err := h.file.Stat()
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: info.Size(), ModTime: info.ModTime(), Mode: info.Mode()}, nil
}

func (h *PassThroughHandler) Status() Stats {
	s := h.stats
	s.LastAccess = time.Now()
	if h.fileSize > 0 {
		accessed := h.maxAccessed.Load()
		if accessed > h.fileSize {
			accessed = h.fileSize
		}
		progress := float32(accessed) / float32(h.fileSize)
		s.AccessProgress = progress
		s.BufferProgress = progress
	}
	return s
}

func (h *PassThroughHandler) AcceptProcessor(p *soundproc.Processor) bool { return false }

func (h *PassThroughHandler) Close() error { return h.file.Close() }
