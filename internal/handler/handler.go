// Package handler implements the per-open-file logic that either passes
// an underlying file through verbatim or decodes, convolves and
// re-encodes it on the fly, plus the reference-counted cache that keeps
// one handler alive across the many open/read/close cycles a media
// player performs against the same logical file.
package handler

import (
	"os"
	"time"

	"github.com/convofs/convofs/internal/soundproc"
)

// Status is the lifecycle stage of a handler, surfaced on the status
// page; RETIRED handlers are kept around only for their HandlerStats
// so recently-played files still show up after being closed.
type Status int

const (
	Open Status = iota
	Idle
	Retired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Idle:
		return "idle"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of a handler's progress and any
// problems encountered, decoupled from the handler itself so it keeps
// being reportable long after the handler it describes has been closed.
type Stats struct {
	Filename        string
	Format          string
	Message         string
	DurationSeconds int     // -1 if unknown, else the track length in seconds
	AccessProgress  float32 // -1 if unknown, else [0,1]
	BufferProgress  float32
	Status          Status
	LastAccess      time.Time
	MaxOutputValue  float32
	InGapless       bool
	OutGapless      bool
	FilterDir       string // "" for pass-through
}

// FileInfo is the subset of file metadata a FileHandler reports back to
// the filesystem layer, kept separate from os.FileInfo so a handler can
// report a size that grows as conversion progresses.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// FileHandler serves read-only operations on one logical file. Since
// it's read-only, the surface is small: Read, Stat, and status
// reporting. A handler may outlive any single open()/close() pair from
// the filesystem (see cache.go), so closing is explicit via Close
// rather than tied to handler construction/destruction.
type FileHandler interface {
	// FilterDir is the filter subdirectory in use, "" for pass-through.
	FilterDir() string

	Read(buf []byte, offset int64) (int, error)
	Stat() (FileInfo, error)

	// Status reports the current HandlerStats for display.
	Status() Stats

	// AcceptProcessor offers a processor handed down from a file that
	// just finished gaplessly, for this handler to continue filling.
	// Returns false if this handler has already started producing
	// output and can't join mid-stream.
	AcceptProcessor(p *soundproc.Processor) bool

	// Close releases any underlying resources (file descriptors,
	// conversion buffers). Safe to call once, from the cache eviction
	// path rather than from the filesystem's close().
	Close() error
}
