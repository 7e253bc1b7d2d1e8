package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/convofs/convofs/internal/audio"
	"github.com/convofs/convofs/internal/convbuffer"
	"github.com/convofs/convofs/internal/soundproc"
)

// writeGaplessTestConfig writes a pass-through (dirac impulse) filter
// config resolvable for the given sample rate, matching the fixture
// style soundproc's own pool tests use.
func writeGaplessTestConfig(t *testing.T, dir string, rate int) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("filter-%d.conf", rate))
	body := "/convolver/new 2 2 64 64\n/impulse/dirac 0 0 1.0 0\n/impulse/dirac 1 1 1.0 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

type gaplessFakeDecoder struct {
	format    audio.Format
	remaining int
	closed    bool
}

func (d *gaplessFakeDecoder) Open(string) error       { return nil }
func (d *gaplessFakeDecoder) Close() error             { d.closed = true; return nil }
func (d *gaplessFakeDecoder) Format() audio.Format     { return d.format }
func (d *gaplessFakeDecoder) DecodeFrames(frames int, buf []byte) (int, error) {
	if d.remaining == 0 {
		return 0, nil
	}
	n := frames
	if n > d.remaining {
		n = d.remaining
	}
	bytesPerSample := d.format.BitsPerSample / 8
	need := n * d.format.Channels * bytesPerSample
	for i := 0; i < need; i++ {
		buf[i] = 0
	}
	d.remaining -= n
	return n, nil
}

type gaplessFakeEncoder struct {
	opened bool
	closed bool
	frames int
}

func (e *gaplessFakeEncoder) Open(sink audio.Sink, format audio.Format) error { e.opened = true; return nil }
func (e *gaplessFakeEncoder) EncodeFrames(data []byte, frames int) error {
	e.frames += frames
	return nil
}
func (e *gaplessFakeEncoder) Close() error { e.closed = true; return nil }

type gaplessFakeFS struct {
	gapless            bool
	dirListing         map[string][]string
	handlers           map[string]FileHandler
	prebufferRequests  int
	releasedPaths      []string
}

func (f *gaplessFakeFS) ListDirectory(dir, suffix string) ([]string, error) {
	return f.dirListing[dir], nil
}
func (f *gaplessFakeFS) GetOrCreateHandler(path string) (FileHandler, error) {
	h, ok := f.handlers[path]
	if !ok {
		return nil, fmt.Errorf("gaplessFakeFS: no handler registered for %s", path)
	}
	return h, nil
}
func (f *gaplessFakeFS) ReleaseHandler(path string, h FileHandler) {
	f.releasedPaths = append(f.releasedPaths, path)
}
func (f *gaplessFakeFS) RequestPrebuffer(buf *convbuffer.ConversionBuffer) { f.prebufferRequests++ }
func (f *gaplessFakeFS) GaplessEnabled() bool                              { return f.gapless }
func (f *gaplessFakeFS) FileOversizeFactor() float64                      { return 1.0 }
func (f *gaplessFakeFS) WorkaroundFlacHeaderIssue() bool                  { return false }
func (f *gaplessFakeFS) PreBufferSize() int64                             { return 1 << 20 }

// newGaplessTestHandler builds a ConvolvingHandler by hand, the way
// NewConvolvingHandler would, but against fakes instead of real files so
// the gapless hand-off path can be driven deterministically.
func newGaplessTestHandler(t *testing.T, fs GaplessFilesystem, pool *soundproc.Pool, configDir, fsPath string, totalFrames int64, enc *gaplessFakeEncoder, dec *gaplessFakeDecoder) *ConvolvingHandler {
	t.Helper()

	proc, err := pool.GetOrCreate(configDir, "", dec.format.SampleRate, dec.format.Channels, dec.format.BitsPerSample)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	h := &ConvolvingHandler{
		fs:              fs,
		pool:            pool,
		fsPath:          fsPath,
		underlyingFile:  fsPath, // not a real FLAC file; copyFlacHeaderVerbatim stays false
		dec:             dec,
		srcKind:         audio.FLAC,
		srcFormat:       dec.format,
		outKind:         audio.FLAC,
		outBits:         dec.format.BitsPerSample,
		frameReader:     soundproc.NewFrameReader(dec),
		encoder:         enc,
		processor:       proc,
		inputFramesLeft: totalFrames,
		totalFrames:     totalFrames,
		stats:           Stats{Filename: fsPath, Status: Open, DurationSeconds: -1},
	}

	buf, err := convbuffer.New(h)
	if err != nil {
		t.Fatalf("convbuffer.New: %v", err)
	}
	h.buffer = buf
	return h
}

func TestConvolvingHandlerGaplessHandoffSucceeds(t *testing.T) {
	dir := t.TempDir()
	writeGaplessTestConfig(t, dir, 44100)
	pool := soundproc.NewPool(4)

	fs := &gaplessFakeFS{
		gapless: true,
		dirListing: map[string][]string{
			"/music/": {"/music/01-track.flac", "/music/02-track.flac"},
		},
		handlers: map[string]FileHandler{},
	}

	dec1 := &gaplessFakeDecoder{format: audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Frames: 40}, remaining: 40}
	enc1 := &gaplessFakeEncoder{}
	// The fragment size in the test config is 64; 40 frames leaves the
	// final fragment partially filled, which is what makes this handler
	// a gapless-handoff candidate once it runs dry.
	h1 := newGaplessTestHandler(t, fs, pool, dir, "/music/01-track.flac", 40, enc1, dec1)

	dec2 := &gaplessFakeDecoder{format: audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Frames: 100}, remaining: 100}
	enc2 := &gaplessFakeEncoder{}
	h2 := newGaplessTestHandler(t, fs, pool, dir, "/music/02-track.flac", 100, enc2, dec2)
	fs.handlers["/music/02-track.flac"] = h2

	if more := h1.AddMoreSoundData(); more {
		t.Fatalf("AddMoreSoundData() = true, want false once the track is exhausted")
	}

	if enc1.frames != 40 {
		t.Fatalf("encoder1 got %d frames written, want exactly 40 (pending frames must be flushed once, not twice)", enc1.frames)
	}
	if !enc1.closed {
		t.Fatalf("expected the donor's encoder to be closed")
	}
	if !dec1.closed {
		t.Fatalf("expected the donor's decoder to be closed")
	}

	st1 := h1.Status()
	if !st1.OutGapless {
		t.Fatalf("expected donor stats.OutGapless = true")
	}

	st2 := h2.Status()
	if !st2.InGapless {
		t.Fatalf("expected successor stats.InGapless = true")
	}
	if h2.processor == nil {
		t.Fatalf("expected the successor to hold the handed-off processor")
	}

	// Only the successor's own original processor goes back to the pool;
	// the handed-off one stays in play under the successor's handler.
	if got := pool.IdleCount(h2.processor.ConfigFile()); got != 1 {
		t.Fatalf("pool.IdleCount = %d, want 1 (only the successor's displaced processor)", got)
	}

	if fs.prebufferRequests != 1 {
		t.Fatalf("prebufferRequests = %d, want 1", fs.prebufferRequests)
	}
	if len(fs.releasedPaths) != 1 || fs.releasedPaths[0] != "/music/02-track.flac" {
		t.Fatalf("releasedPaths = %v, want [/music/02-track.flac]", fs.releasedPaths)
	}
}

func TestConvolvingHandlerGaplessHandoffWithNoSuccessorWritesExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	writeGaplessTestConfig(t, dir, 44100)
	pool := soundproc.NewPool(4)

	fs := &gaplessFakeFS{
		gapless: true,
		dirListing: map[string][]string{
			"/music/": {"/music/01-track.flac"}, // the only file in the directory
		},
		handlers: map[string]FileHandler{},
	}

	dec := &gaplessFakeDecoder{format: audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Frames: 40}, remaining: 40}
	enc := &gaplessFakeEncoder{}
	h := newGaplessTestHandler(t, fs, pool, dir, "/music/01-track.flac", 40, enc, dec)

	if more := h.AddMoreSoundData(); more {
		t.Fatalf("AddMoreSoundData() = true, want false")
	}

	if enc.frames != 40 {
		t.Fatalf("encoder got %d frames written, want exactly 40 (a failed hand-off must not re-write the pending fragment)", enc.frames)
	}
	if !enc.closed || !dec.closed {
		t.Fatalf("expected the handler to close out normally after a failed hand-off attempt")
	}

	st := h.Status()
	if st.OutGapless {
		t.Fatalf("expected stats.OutGapless = false when there is no successor")
	}
}

func TestConvolvingHandlerAcceptProcessorRejectsAlreadyStarted(t *testing.T) {
	dir := t.TempDir()
	writeGaplessTestConfig(t, dir, 44100)
	pool := soundproc.NewPool(4)
	fs := &gaplessFakeFS{gapless: true, handlers: map[string]FileHandler{}}

	dec := &gaplessFakeDecoder{format: audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Frames: 100}, remaining: 100}
	enc := &gaplessFakeEncoder{}
	h := newGaplessTestHandler(t, fs, pool, dir, "/music/only.flac", 100, enc, dec)
	h.inputFramesLeft = 50 // already partway through

	donor, err := pool.GetOrCreate(dir, "", 44100, 2, 16)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if h.AcceptProcessor(donor) {
		t.Fatalf("expected AcceptProcessor to refuse a hand-off once output has started")
	}
}

func TestConvolvingHandlerAcceptProcessorRejectsConfigMismatch(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeGaplessTestConfig(t, dirA, 44100)
	writeGaplessTestConfig(t, dirB, 44100)
	pool := soundproc.NewPool(4)
	fs := &gaplessFakeFS{gapless: true, handlers: map[string]FileHandler{}}

	dec := &gaplessFakeDecoder{format: audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16, Frames: 100}, remaining: 100}
	enc := &gaplessFakeEncoder{}
	h := newGaplessTestHandler(t, fs, pool, dirA, "/music/only.flac", 100, enc, dec)

	donor, err := pool.GetOrCreate(dirB, "", 44100, 2, 16)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if h.AcceptProcessor(donor) {
		t.Fatalf("expected AcceptProcessor to refuse a hand-off from a differently-configured processor")
	}
}
