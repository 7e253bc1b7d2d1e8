package convbuffer

import (
	"fmt"
	"os"
)

// coalesceBufSize bounds how many encoder-write bytes we batch in memory
// before forcing a pwrite to the backing file.
const coalesceBufSize = 64 * 1024

// writeCoalescer batches the many small writes libFLAC's write callback
// produces into fewer, larger pwrite(2) calls against a backing file.
// It must be flushed before any read of the backing file and before close.
type writeCoalescer struct {
	file    *os.File
	offset  int64
	ring    *byteRing
	scratch []byte
}

func newWriteCoalescer(file *os.File) *writeCoalescer {
	return &writeCoalescer{
		file: file,
		ring: newByteRing(coalesceBufSize),
	}
}

// write stages data in the ring, flushing first if it doesn't fit.
func (w *writeCoalescer) write(data []byte) error {
	if len(data) > int(w.ring.size) {
		if err := w.Flush(); err != nil {
			return err
		}
		return w.pwrite(data)
	}
	if err := w.ring.write(data); err != nil {
		if err := w.Flush(); err != nil {
			return err
		}
		return w.ring.write(data)
	}
	return nil
}

// Flush drains the ring and performs one pwrite for everything staged.
func (w *writeCoalescer) Flush() error {
	w.scratch = w.ring.drainInto(w.scratch[:0])
	if len(w.scratch) == 0 {
		return nil
	}
	return w.pwrite(w.scratch)
}

func (w *writeCoalescer) pwrite(data []byte) error {
	n, err := w.file.WriteAt(data, w.offset)
	if err != nil {
		return fmt.Errorf("convbuffer: write backing file: %w", err)
	}
	w.offset += int64(n)
	return nil
}
