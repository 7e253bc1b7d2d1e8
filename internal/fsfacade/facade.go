// Package fsfacade ties the handler cache, the processor pool and the
// pre-buffer worker to the two directory trees a mount actually needs:
// the underlying music directory being mirrored, and the base directory
// holding the selectable filter configurations. It is the one type the
// FUSE bindings and the HTTP status server both hold a reference to.
package fsfacade

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/convofs/convofs/internal/convbuffer"
	"github.com/convofs/convofs/internal/filterconfig"
	"github.com/convofs/convofs/internal/handler"
	"github.com/convofs/convofs/internal/prebuffer"
	"github.com/convofs/convofs/internal/soundproc"
)

// Config gathers every mount-time setting a Facade needs. Subdirs lists
// the filter names made available on the status page; Initial, if
// non-empty, must be one of them.
type Config struct {
	UnderlyingDir string
	BaseConfigDir string
	Subdirs       []string
	Initial       string

	GaplessProcessing         bool
	ToplevelDirIsFilter       bool
	FileOversizeFactor        float64
	WorkaroundFlacHeaderIssue bool
	PreBufferSize             int64

	CacheSize             int
	MaxProcessorsPerFilter int
}

// Facade is the filesystem-facing object a mount is built around. It
// satisfies handler.GaplessFilesystem so ConvolvingHandlers created
// through it can reach back into the directory listing, the handler
// cache and the pre-buffer worker without importing this package.
type Facade struct {
	underlyingDir string
	baseConfigDir string
	gapless       bool
	toplevelIsFilter bool
	oversizeFactor   float64
	workaroundFlac   bool
	preBufferSize    int64

	cache  *handler.Cache
	pool   *soundproc.Pool
	worker *prebuffer.Worker

	mu              sync.RWMutex
	availableSubdirs []string
	currentSubdir    string

	totalOpenings atomic.Int64
	totalReopens  atomic.Int64
}

// New builds a Facade and starts its background pre-buffer worker. The
// base config directory and at least one filter subdir must already
// exist on disk; New does not create them.
func New(cfg Config) (*Facade, error) {
	if cfg.UnderlyingDir == "" {
		return nil, fmt.Errorf("fsfacade: underlying directory is required")
	}
	if cfg.BaseConfigDir == "" {
		return nil, fmt.Errorf("fsfacade: base config directory is required")
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 100
	}
	maxPerFilter := cfg.MaxProcessorsPerFilter
	if maxPerFilter <= 0 {
		maxPerFilter = 4
	}
	preBuffer := cfg.PreBufferSize
	if preBuffer <= 0 {
		preBuffer = 1 << 20
	}
	oversize := cfg.FileOversizeFactor
	if oversize <= 0 {
		oversize = 1.05
	}

	f := &Facade{
		underlyingDir:    cfg.UnderlyingDir,
		baseConfigDir:    cfg.BaseConfigDir,
		gapless:          cfg.GaplessProcessing,
		toplevelIsFilter: cfg.ToplevelDirIsFilter,
		oversizeFactor:   oversize,
		workaroundFlac:   cfg.WorkaroundFlacHeaderIssue,
		preBufferSize:    preBuffer,
		cache:            handler.NewCache(cacheSize),
		pool:             soundproc.NewPool(maxPerFilter),
		worker:           prebuffer.NewWorker(preBuffer),
	}
	f.worker.Start()

	if err := f.setupInitialConfig(cfg.Subdirs, cfg.Initial); err != nil {
		f.worker.Stop()
		return nil, err
	}
	return f, nil
}

func (f *Facade) setupInitialConfig(requested []string, initial string) error {
	discovered, err := filterconfig.ListConfigDirs(f.baseConfigDir)
	if err != nil {
		return fmt.Errorf("fsfacade: list filter configs under %s: %w", f.baseConfigDir, err)
	}
	subdirs := requested
	if len(subdirs) == 0 {
		subdirs = discovered
	}
	if len(subdirs) == 0 {
		return fmt.Errorf("fsfacade: no filter configuration subdirectories found under %s", f.baseConfigDir)
	}
	sort.Strings(subdirs)

	current := initial
	if current == "" {
		current = subdirs[0]
	}
	if _, err := filterconfig.SanitizeSubdir(f.baseConfigDir, current); err != nil {
		return fmt.Errorf("fsfacade: initial filter %q: %w", current, err)
	}

	f.mu.Lock()
	f.availableSubdirs = subdirs
	f.currentSubdir = current
	f.mu.Unlock()
	return nil
}

// Close stops the background worker. Handlers already cached continue
// to work; call this only once the mount itself is going away.
func (f *Facade) Close() {
	f.worker.Stop()
}

// UnderlyingDir is the directory tree being mirrored and convolved.
func (f *Facade) UnderlyingDir() string { return f.underlyingDir }

// BaseConfigDir is the common parent of every filter subdirectory.
func (f *Facade) BaseConfigDir() string { return f.baseConfigDir }

// AvailableConfigDirs lists every filter subdir a client can switch to.
func (f *Facade) AvailableConfigDirs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.availableSubdirs))
	copy(out, f.availableSubdirs)
	return out
}

// CurrentConfigDir is the filter subdirectory new opens resolve against.
func (f *Facade) CurrentConfigDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.currentSubdir
}

// SwitchCurrentConfigDir validates that subdir resolves under the base
// config directory and, if so, makes it the effective filter for any
// handler created from this point on. Handlers already in the cache,
// pinned or idle, keep using whatever filter they were built with.
func (f *Facade) SwitchCurrentConfigDir(subdir string) error {
	if _, err := filterconfig.SanitizeSubdir(f.baseConfigDir, subdir); err != nil {
		return err
	}
	f.mu.Lock()
	f.currentSubdir = subdir
	f.mu.Unlock()
	slog.Info("fsfacade: switched active filter", "filter", subdir)
	return nil
}

// SwitchByIndex is a convenience for the status page's numeric filter
// picker, selecting AvailableConfigDirs()[index].
func (f *Facade) SwitchByIndex(index int) error {
	f.mu.RLock()
	subdirs := f.availableSubdirs
	f.mu.RUnlock()
	if index < 0 || index >= len(subdirs) {
		return fmt.Errorf("fsfacade: filter index %d out of range", index)
	}
	return f.SwitchCurrentConfigDir(subdirs[index])
}

// filterSubdirForPath returns the effective filter subdir a path should
// be decoded with: when toplevel-dir-is-filter is set, the first path
// component names the filter directly and overrides the globally
// selected one.
func (f *Facade) filterSubdirForPath(fsPath string) string {
	if f.toplevelIsFilter {
		trimmed := strings.TrimPrefix(fsPath, string(filepath.Separator))
		if i := strings.IndexRune(trimmed, filepath.Separator); i >= 0 {
			return trimmed[:i]
		}
	}
	return f.CurrentConfigDir()
}

// CacheKey is the handler cache key for fsPath: the path alone. The
// active filter is not part of the key, so after a filter switch a path
// that still has a cached handler (pinned or idle) keeps being served by
// that handler, with the filter it was built with, until the entry is
// evicted.
func (f *Facade) CacheKey(fsPath string) string {
	return fsPath
}

func (f *Facade) underlyingPath(fsPath string) string {
	return filepath.Join(f.underlyingDir, fsPath)
}

// GetOrCreateHandler implements handler.GaplessFilesystem, and is also
// the entry point the FUSE open() callback uses directly. It first
// checks the cache, then tries a ConvolvingHandler, falling back to a
// PassThroughHandler for anything that isn't a recognised, filterable
// sound file.
func (f *Facade) GetOrCreateHandler(fsPath string) (handler.FileHandler, error) {
	key := f.CacheKey(fsPath)
	if h, ok := f.cache.FindAndPin(key); ok {
		f.totalReopens.Add(1)
		return h, nil
	}

	f.totalOpenings.Add(1)
	underlying := f.underlyingPath(fsPath)
	filterSubdir := f.filterSubdirForPath(fsPath)

	conv, stats, err := handler.NewConvolvingHandler(f, f.pool, f.baseConfigDir, fsPath, underlying, filterSubdir)
	if err == nil {
		return f.cache.InsertPinned(key, conv), nil
	}
	slog.Debug("fsfacade: falling back to pass-through", "file", fsPath, "reason", err)

	pt, ptErr := handler.NewPassThroughHandler(underlying, stats)
	if ptErr != nil {
		return nil, ptErr
	}
	return f.cache.InsertPinned(key, pt), nil
}

// ReleaseHandler implements handler.GaplessFilesystem and is also the
// FUSE release() entry point.
func (f *Facade) ReleaseHandler(fsPath string, h handler.FileHandler) {
	f.cache.Unpin(f.CacheKey(fsPath))
}

// StatByFilename reports the handler's view of fsPath's size if it is
// currently cached (so a convolving file's growing estimated size is
// reflected), or false if nothing is cached for it.
func (f *Facade) StatByFilename(fsPath string) (handler.FileInfo, bool) {
	key := f.CacheKey(fsPath)
	h, ok := f.cache.FindAndPin(key)
	if !ok {
		return handler.FileInfo{}, false
	}
	defer f.cache.Unpin(key)
	info, err := h.Stat()
	if err != nil {
		return handler.FileInfo{}, false
	}
	return info, true
}

// ListDirectory implements handler.GaplessFilesystem: it lists files
// directly under the underlying directory dir (relative to the mount
// root) whose name ends in suffix, as sorted mount paths (dir joined
// with the file name) that GetOrCreateHandler accepts.
func (f *Facade) ListDirectory(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(f.underlyingPath(dir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if suffix == "" || strings.HasSuffix(e.Name(), suffix) {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

// RequestPrebuffer implements handler.GaplessFilesystem, forwarding to
// the background worker.
func (f *Facade) RequestPrebuffer(buf *convbuffer.ConversionBuffer) {
	f.worker.EnqueueWork(buf)
}

// QuitBuffering tells the background worker to stop tracking buf. It is
// not part of handler.GaplessFilesystem, and handlers do not call it
// when they close.
func (f *Facade) QuitBuffering(buf *convbuffer.ConversionBuffer) {
	f.worker.Forget(buf)
}

func (f *Facade) GaplessEnabled() bool             { return f.gapless }
func (f *Facade) FileOversizeFactor() float64      { return f.oversizeFactor }
func (f *Facade) WorkaroundFlacHeaderIssue() bool  { return f.workaroundFlac }
func (f *Facade) PreBufferSize() int64             { return f.preBufferSize }

// TotalOpenings and TotalReopens feed the status page's counters: the
// former counts cache misses (a handler had to be built), the latter
// counts cache hits (an already-open handler was reused).
func (f *Facade) TotalOpenings() int64 { return f.totalOpenings.Load() }
func (f *Facade) TotalReopens() int64  { return f.totalReopens.Load() }

// CacheStats exposes the handler cache's snapshot for the status page.
func (f *Facade) CacheStats() []handler.Stats { return f.cache.Stats() }

// SetCacheObserver registers the status server's rolling history as the
// cache's eviction observer. Must be called at most once, before the
// facade sees any traffic.
func (f *Facade) SetCacheObserver(o handler.CacheObserver) { f.cache.SetObserver(o) }

// ExtractFilterName returns the user-visible filter name a Stats value
// should report: its FilterDir if set, otherwise "-" for pass-through.
func ExtractFilterName(s handler.Stats) string {
	if s.FilterDir == "" {
		return "-"
	}
	return s.FilterDir
}
