// Package liberrors contains errors returned by the library.
package liberrors

import (
	"fmt"
	"time"
)

// ErrSessionTerminated is returned when the session has been closed.
type ErrSessionTerminated struct{}

// Error implements the error interface.
func (e ErrSessionTerminated) Error() string {
	return "terminated"
}

// ErrSessionSourceMissing is returned when a session is started without a byte source.
type ErrSessionSourceMissing struct{}

// Error implements the error interface.
func (e ErrSessionSourceMissing) Error() string {
	return "source not provided"
}

// ErrSessionInvalidPolicy is returned in case of an unknown flush policy.
type ErrSessionInvalidPolicy struct {
	Policy fmt.Stringer
}

// Error implements the error interface.
func (e ErrSessionInvalidPolicy) Error() string {
	return fmt.Sprintf("invalid flush policy: %v", e.Policy)
}

// ErrSessionInvalidTimeout is returned in case of a negative timeout or tick period.
type ErrSessionInvalidTimeout struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e ErrSessionInvalidTimeout) Error() string {
	return fmt.Sprintf("invalid timeout: %v", e.Timeout)
}

// ErrSessionSourceRead is returned when reading from the byte source fails.
type ErrSessionSourceRead struct {
	Err error
}

// Error implements the error interface.
func (e ErrSessionSourceRead) Error() string {
	return fmt.Sprintf("unable to read from source: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrSessionSourceRead) Unwrap() error {
	return e.Err
}

// ErrSessionSinkWrite is returned when the frame sink refuses a frame.
type ErrSessionSinkWrite struct {
	Err error
}

// Error implements the error interface.
func (e ErrSessionSinkWrite) Error() string {
	return fmt.Sprintf("unable to write frame: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e ErrSessionSinkWrite) Unwrap() error {
	return e.Err
}

// ErrNALUTooBig is returned when a NALU exceeds the maximum allowed size.
// Buffered data is discarded and extraction resumes at the next start code.
type ErrNALUTooBig struct {
	Size int
	Max  int
}

// Error implements the error interface.
func (e ErrNALUTooBig) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big, maximum is %d", e.Size, e.Max)
}
