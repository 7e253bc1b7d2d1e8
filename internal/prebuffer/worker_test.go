package prebuffer

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/convofs/convofs/internal/convbuffer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSource struct {
	chunk     []byte
	remaining int32
}

func (s *countingSource) SetOutputSink(buf *convbuffer.ConversionBuffer) {}

func (s *countingSource) AddMoreSoundData() bool {
	if atomic.AddInt32(&s.remaining, -1) < 0 {
		return false
	}
	return true
}

func newCompletableBuffer(t *testing.T, chunks int) (*convbuffer.ConversionBuffer, *countingSource) {
	t.Helper()
	src := &countingSource{remaining: int32(chunks)}
	buf, err := convbuffer.New(src)
	if err != nil {
		t.Fatalf("convbuffer.New: %v", err)
	}
	return buf, src
}

func TestWorkerEnqueueDrivesBufferToCompletion(t *testing.T) {
	buf, _ := newCompletableBuffer(t, 3)
	defer buf.Close()

	w := NewWorker(1 << 20) // buffer-ahead far beyond anything this test produces
	w.Start()
	defer w.Stop()

	w.EnqueueWork(buf)

	deadline := time.Now().Add(2 * time.Second)
	for !buf.IsComplete() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !buf.IsComplete() {
		t.Fatalf("expected the worker to drive the buffer to completion")
	}
}

func TestWorkerForgetWaitsOutInFlightWork(t *testing.T) {
	buf, _ := newCompletableBuffer(t, 1)
	defer buf.Close()

	w := NewWorker(1 << 20)
	w.Start()
	defer w.Stop()

	w.EnqueueWork(buf)
	w.Forget(buf) // must return, never hang, even if work was mid-flight

	w.mu.Lock()
	for _, item := range w.queue {
		if item.buffer == buf {
			w.mu.Unlock()
			t.Fatalf("buffer still present in queue after Forget")
		}
	}
	w.mu.Unlock()
}

func TestWorkerStopEndsLoopOnceQueueDrains(t *testing.T) {
	buf, _ := newCompletableBuffer(t, 1)
	defer buf.Close()

	w := NewWorker(1 << 20)
	w.Start()
	w.EnqueueWork(buf)

	deadline := time.Now().Add(2 * time.Second)
	for !buf.IsComplete() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.Stop()
	// A second Stop or further use must not panic or deadlock.
	w.Stop()
}
