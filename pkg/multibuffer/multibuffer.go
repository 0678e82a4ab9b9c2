// Package multibuffer contains a rotating set of read buffers.
package multibuffer

// MultiBuffer is a fixed set of buffers that are handed out in turn.
// A buffer returned by Next() is overwritten after count calls,
// therefore the consumer of a buffer must be done with it by then.
type MultiBuffer struct {
	buffers [][]byte
	cur     int
}

// New allocates a MultiBuffer with count buffers of the given size.
func New(count int, size int) *MultiBuffer {
	buffers := make([][]byte, count)
	for i := range buffers {
		buffers[i] = make([]byte, size)
	}

	return &MultiBuffer{
		buffers: buffers,
	}
}

// Next returns the current buffer and moves to the following one.
func (mb *MultiBuffer) Next() []byte {
	ret := mb.buffers[mb.cur]
	mb.cur = (mb.cur + 1) % len(mb.buffers)
	return ret
}
