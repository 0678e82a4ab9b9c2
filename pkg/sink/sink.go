// Package sink contains the interface of frame outputs.
package sink

import (
	"github.com/bluenviron/h264framer/pkg/frame"
)

// Sink is an output that receives completed frames.
type Sink interface {
	WriteFrame(*frame.Frame) error
}

// Func allows to use an ordinary function as a Sink.
type Func func(*frame.Frame) error

// WriteFrame implements Sink.
func (f Func) WriteFrame(fr *frame.Frame) error {
	return f(fr)
}

// Multi writes every frame into several sinks, in order.
// It stops at the first error.
type Multi []Sink

// WriteFrame implements Sink.
func (m Multi) WriteFrame(fr *frame.Frame) error {
	for _, s := range m {
		err := s.WriteFrame(fr)
		if err != nil {
			return err
		}
	}
	return nil
}
