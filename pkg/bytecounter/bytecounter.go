// Package bytecounter contains a io.Reader wrapper that counts read bytes and errors.
package bytecounter

import (
	"errors"
	"io"
	"sync/atomic"
)

// Reader is a io.Reader wrapper that counts read bytes and errors.
// Counters can be read from any routine.
type Reader struct {
	r          io.Reader
	received   atomic.Uint64
	readErrors atomic.Uint64
}

// NewReader allocates a Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r: r,
	}
}

// Read implements io.Reader.
func (bc *Reader) Read(p []byte) (int, error) {
	n, err := bc.r.Read(p)
	bc.received.Add(uint64(n))

	if err != nil && !errors.Is(err, io.EOF) {
		bc.readErrors.Add(1)
	}

	return n, err
}

// BytesReceived returns the number of bytes received.
func (bc *Reader) BytesReceived() uint64 {
	return bc.received.Load()
}

// ReadErrors returns the number of read errors, end of stream excluded.
func (bc *Reader) ReadErrors() uint64 {
	return bc.readErrors.Load()
}
