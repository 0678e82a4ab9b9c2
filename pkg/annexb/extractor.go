package annexb

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/h264framer/pkg/liberrors"
)

// Extractor extracts NALUs from an Annex-B stream that is received in chunks
// of arbitrary size. The output does not depend on how the stream is chunked.
type Extractor struct {
	// maximum size of a NALU (optional).
	// It defaults to h264.MaxAccessUnitSize.
	MaxNALUSize int

	buf       []byte
	started   bool
	startSize int
	next      int
	starts    []startPos
	dropped   uint64
}

// Initialize initializes an Extractor.
func (e *Extractor) Initialize() {
	if e.MaxNALUSize == 0 {
		e.MaxNALUSize = h264.MaxAccessUnitSize
	}
}

// Write appends a chunk to the stream and returns the NALUs that have been completed.
// Returned NALUs are never modified by the Extractor.
// The only error returned is liberrors.ErrNALUTooBig, after which extraction
// resumes with the next start code.
func (e *Extractor) Write(chunk []byte) ([][]byte, error) {
	e.buf = append(e.buf, chunk...)

	e.starts = e.starts[:0]
	if e.started {
		e.starts = append(e.starts, startPos{pos: 0, size: e.startSize})
	}

	e.starts, e.next = findStarts(e.buf, e.next, e.starts)

	if len(e.starts) == 0 {
		// no start code yet; only the last bytes can still begin one
		if len(e.buf) > 3 {
			drop := len(e.buf) - 3
			n := copy(e.buf, e.buf[drop:])
			e.buf = e.buf[:n]
			e.next -= drop
		}
		return nil, nil
	}

	nalus, dropped := splitUnits(e.buf, e.starts)
	e.dropped += uint64(dropped)

	last := e.starts[len(e.starts)-1]

	if last.pos != 0 {
		// move the tail into a new buffer, in order not to overwrite returned NALUs
		tail := make([]byte, len(e.buf)-last.pos)
		copy(tail, e.buf[last.pos:])
		e.buf = tail
		e.next -= last.pos
	}

	e.started = true
	e.startSize = last.size

	if size := len(e.buf) - e.startSize; size > e.MaxNALUSize {
		e.Reset()
		return nalus, liberrors.ErrNALUTooBig{Size: size, Max: e.MaxNALUSize}
	}

	return nalus, nil
}

// Flush returns the buffered NALU, that is complete once the stream has ended,
// and discards buffered data.
func (e *Extractor) Flush() [][]byte {
	defer e.Reset()

	if !e.started {
		return nil
	}

	nalus, dropped := splitUnits(e.buf, []startPos{
		{pos: 0, size: e.startSize},
		{pos: len(e.buf)},
	})
	e.dropped += uint64(dropped)

	return nalus
}

// Tail returns buffered data that does not form a complete NALU yet.
func (e *Extractor) Tail() []byte {
	return e.buf
}

// Reset discards buffered data.
func (e *Extractor) Reset() {
	e.buf = nil
	e.started = false
	e.startSize = 0
	e.next = 0
}

// DroppedUnits returns the count of NALUs without header byte that have been discarded.
func (e *Extractor) DroppedUnits() uint64 {
	return e.dropped
}
