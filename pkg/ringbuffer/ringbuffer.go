// Package ringbuffer contains a bounded ring buffer with a single consumer.
package ringbuffer

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RingBuffer is a bounded ring buffer.
// Push never blocks and fails when the buffer is full.
// Pull blocks until an item is available or the buffer is closed.
type RingBuffer[T any] struct {
	size       uint64
	readIndex  uint64
	writeIndex uint64
	writeMutex sync.Mutex
	closed     atomic.Bool
	buffer     []atomic.Pointer[T]
	event      *event
}

// New allocates a RingBuffer.
func New[T any](size uint64) (*RingBuffer[T], error) {
	// when writeIndex overflows, if size is not a power of
	// two, only a portion of the buffer is used.
	if size == 0 || (size&(size-1)) != 0 {
		return nil, fmt.Errorf("size must be a power of two")
	}

	return &RingBuffer[T]{
		size:       size,
		readIndex:  1,
		writeIndex: 0,
		buffer:     make([]atomic.Pointer[T], size),
		event:      newEvent(),
	}, nil
}

// Close makes Pull() return false once the buffer is drained.
func (r *RingBuffer[T]) Close() {
	r.closed.Store(true)
	r.event.signal()
}

// Reset empties the buffer and restores Pull() behavior after a Close().
// It must not be called concurrently with Pull().
func (r *RingBuffer[T]) Reset() {
	r.writeMutex.Lock()
	defer r.writeMutex.Unlock()

	for i := range r.buffer {
		r.buffer[i].Store(nil)
	}
	r.writeIndex = 0
	r.readIndex = 1
	r.closed.Store(false)
}

// Push pushes data at the end of the buffer.
// It returns false if the buffer is full.
func (r *RingBuffer[T]) Push(data T) bool {
	r.writeMutex.Lock()
	defer r.writeMutex.Unlock()

	i := (r.writeIndex + 1) % r.size
	if r.buffer[i].Load() != nil {
		return false
	}

	r.buffer[i].Store(&data)
	r.writeIndex++
	r.event.signal()
	return true
}

// Pull pulls data from the beginning of the buffer.
func (r *RingBuffer[T]) Pull() (T, bool) {
	for {
		i := r.readIndex % r.size
		res := r.buffer[i].Swap(nil)
		if res == nil {
			if r.closed.Load() {
				var zero T
				return zero, false
			}
			r.event.wait()
			continue
		}

		r.readIndex++
		return *res, true
	}
}
