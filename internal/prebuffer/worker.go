// Package prebuffer runs a single background worker that keeps feeding
// conversion buffers ahead of where a reader has actually gotten to, so
// streaming playback doesn't stall on the convolution pipeline once a
// player catches up to the live edge of what's been produced.
package prebuffer

import (
	"sync"

	"github.com/convofs/convofs/internal/convbuffer"
)

// bufferChunkBytes is how much one round of a queued buffer's work does
// before the worker moves on to the next queued buffer, so several
// files being pre-buffered at once make progress round-robin rather
// than one hogging the worker to completion.
const bufferChunkBytes = 8 << 10

type workItem struct {
	buffer *convbuffer.ConversionBuffer
	goal   int64
}

// Worker processes a small work queue of ConversionBuffers, advancing
// each by one chunk per turn until it either reaches its buffer-ahead
// goal or its source is exhausted. There is deliberately only one
// Worker for the whole process: the underlying convolution pipeline is
// what's expensive, not I/O, so running several in parallel would just
// contend with live reader requests for CPU.
type Worker struct {
	bufferAhead int64

	mu      sync.Mutex
	cond    *sync.Cond
	picked  *sync.Cond
	queue   []workItem
	current *convbuffer.ConversionBuffer
	stopped bool
}

func NewWorker(bufferAhead int64) *Worker {
	w := &Worker{bufferAhead: bufferAhead}
	w.cond = sync.NewCond(&w.mu)
	w.picked = sync.NewCond(&w.mu)
	return w
}

// Start runs the worker loop in its own goroutine. Call once.
func (w *Worker) Start() { go w.run() }

// Stop asks the worker loop to exit once its queue drains. It does not
// wait for in-flight work to finish; call Forget first on anything that
// must not be touched after Stop returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// EnqueueWork schedules buf to be filled up to buffer-ahead bytes past
// its current high-water mark. If buf is already queued, its goal is
// simply bumped rather than adding a duplicate entry.
func (w *Worker) EnqueueWork(buf *convbuffer.ConversionBuffer) {
	goal := buf.MaxAccessed() + w.bufferAhead

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.queue {
		if w.queue[i].buffer == buf {
			w.queue[i].goal = goal
			return
		}
	}
	w.queue = append(w.queue, workItem{buffer: buf, goal: goal})
	w.cond.Signal()
}

// Forget removes buf from the queue, blocking until any in-progress
// work on it completes first. Call this before discarding a
// ConversionBuffer so the worker never touches it after it's gone.
func (w *Worker) Forget(buf *convbuffer.ConversionBuffer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.current == buf {
		w.picked.Wait()
	}
	filtered := w.queue[:0]
	for _, item := range w.queue {
		if item.buffer != buf {
			filtered = append(filtered, item)
		}
	}
	w.queue = filtered
}

func (w *Worker) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.stopped {
			w.mu.Unlock()
			return
		}
		work := w.queue[0]
		w.current = work.buffer
		w.picked.Broadcast()
		w.mu.Unlock()

		work.buffer.FillUpTo(work.buffer.FileSize() + bufferChunkBytes)
		complete := work.buffer.IsComplete() || work.buffer.FileSize() >= work.goal

		w.mu.Lock()
		if complete {
			w.queue = w.queue[1:]
		} else {
			// More to do: round-robin behind whatever else is queued.
			w.queue = append(w.queue[1:], work)
		}
		w.current = nil
		w.picked.Broadcast()
		w.mu.Unlock()
	}
}
