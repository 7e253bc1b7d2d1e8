package soundproc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/convofs/convofs/internal/convolve"
	"github.com/convofs/convofs/internal/filterconfig"
)

// Pool is a bounded free-list of Processors keyed by resolved config
// path, so switching between tracks that share a filter doesn't pay for
// re-parsing the config and rebuilding convolution state every time.
type Pool struct {
	maxPerConfig int

	mu   sync.Mutex
	idle map[string][]*Processor
}

func NewPool(maxPerConfig int) *Pool {
	return &Pool{
		maxPerConfig: maxPerConfig,
		idle:         make(map[string][]*Processor),
	}
}

// GetOrCreate resolves the most specific filter config under
// base/subdir for (rate, channels, bits), returning an idle processor
// for it if one is pooled, or building a fresh one otherwise.
func (p *Pool) GetOrCreate(base, subdir string, rate, channels, bits int) (*Processor, error) {
	path, err := filterconfig.Resolve(base, subdir, rate, channels, bits)
	if err != nil {
		return nil, err
	}

	if proc := p.checkOut(path); proc != nil {
		slog.Debug("soundproc: processor reused", "config", path)
		return proc, nil
	}

	cfg, err := filterconfig.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("soundproc: %s is broken: %w", path, err)
	}
	engine, err := convolve.New(cfg.Taps, cfg.FragmentSize, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("soundproc: %s: %w", path, err)
	}
	slog.Debug("soundproc: processor created", "config", path)
	return newProcessor(engine, cfg.Path, cfg.ModTime, cfg.Channels, cfg.FragmentSize), nil
}

func (p *Pool) checkOut(path string) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[path]
	if len(list) == 0 {
		return nil
	}
	proc := list[0]
	p.idle[path] = list[1:]
	return proc
}

// Return resets proc and pushes it back onto its config's free list; if
// that list is already at capacity, proc is simply dropped.
func (p *Pool) Return(proc *Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[proc.ConfigFile()]
	if len(list) >= p.maxPerConfig {
		return
	}
	proc.Reset()
	p.idle[proc.ConfigFile()] = append(list, proc)
}

// IdleCount reports how many processors are currently pooled for path,
// used by tests asserting the pool-size invariant.
func (p *Pool) IdleCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[path])
}
