package handler

import "github.com/convofs/convofs/internal/convbuffer"

// GaplessFilesystem is the slice of the filesystem facade a
// ConvolvingHandler needs to hand its processor to the alphabetically
// next track and to kick off background pre-buffering. It's a small
// interface deliberately kept separate from the eventual fsfacade
// package so this package doesn't import it and create a cycle.
type GaplessFilesystem interface {
	// ListDirectory lists files directly under dir whose name has the
	// given suffix (including the dot), sorted, as full mount paths
	// (dir joined with the file name).
	ListDirectory(dir, suffix string) ([]string, error)

	// GetOrCreateHandler returns the (possibly cached) handler for path,
	// creating it if necessary.
	GetOrCreateHandler(path string) (FileHandler, error)

	// ReleaseHandler returns a reference obtained via GetOrCreateHandler.
	ReleaseHandler(path string, h FileHandler)

	// RequestPrebuffer asks the background pre-buffer worker to keep
	// feeding buf until it is complete or superseded by a newer request.
	RequestPrebuffer(buf *convbuffer.ConversionBuffer)

	GaplessEnabled() bool
	FileOversizeFactor() float64
	WorkaroundFlacHeaderIssue() bool
	PreBufferSize() int64
}
