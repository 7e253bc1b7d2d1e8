package handler

import "errors"

// Sentinel errors surfaced through HandlerStats.Message and logged at
// the point they occur, mirroring the diagnostics the original project
// reports per-file in its status page.
var (
	ErrNoFilterForFormat = errors.New("handler: no filter configuration found for this format")
	ErrDecodeFailure     = errors.New("handler: decode failure")
	ErrEncodeFailure     = errors.New("handler: encode failure")
	ErrPrematureEOF      = errors.New("handler: premature EOF in input file")
	ErrIOFailure         = errors.New("handler: I/O failure")
	ErrGaplessRefused    = errors.New("handler: gapless hand-off refused")
)
