// Package assembler contains a H264 access unit assembler.
package assembler

import (
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/h264framer/pkg/annexb"
	"github.com/bluenviron/h264framer/pkg/frame"
	"github.com/bluenviron/h264framer/pkg/liberrors"
)

const (
	defaultTimeout = 500 * time.Millisecond
)

// ParameterSets contains the most recent parameter sets.
type ParameterSets struct {
	SPS []byte
	PPS []byte
}

// Assembler groups NALUs into access units and emits them as frames.
// It is not safe for concurrent use; every stream needs its own Assembler.
type Assembler struct {
	// policy used to detect the end of an access unit.
	// It defaults to BoundaryFlush.
	Policy FlushPolicy

	// maximum time an access unit can stay open (optional).
	// It is used by DelimiterFlushWithTimeout only.
	// It defaults to 500ms.
	Timeout time.Duration

	// what to do with SEI NALUs.
	// It defaults to SEIDiscard.
	SEI SEIMode

	// what to do with the access unit that begins with an IDR.
	// It defaults to IDRAccumulate.
	IDR IDRMode

	// source tag copied into every frame (optional).
	FrameID string

	// function used to timestamp frames.
	// It defaults to time.Now.
	TimeNow func() time.Time

	params   ParameterSets
	au       [][]byte
	auSize   int
	openedAt time.Time
}

// Initialize initializes the Assembler.
func (a *Assembler) Initialize() error {
	switch a.Policy {
	case BoundaryFlush, DelimiterFlush, DelimiterFlushWithTimeout:
	default:
		return liberrors.ErrSessionInvalidPolicy{Policy: a.Policy}
	}

	if a.Timeout < 0 {
		return liberrors.ErrSessionInvalidTimeout{Timeout: a.Timeout}
	}
	if a.Timeout == 0 {
		a.Timeout = defaultTimeout
	}
	if a.TimeNow == nil {
		a.TimeNow = time.Now
	}

	return nil
}

// State returns the state of the Assembler.
func (a *Assembler) State() State {
	if len(a.au) == 0 {
		return StateIdle
	}
	return StateAccumulating
}

// Len returns the count of NALUs of the access unit in progress.
func (a *Assembler) Len() int {
	return len(a.au)
}

// ParameterSets returns the cached parameter sets.
func (a *Assembler) ParameterSets() ParameterSets {
	return a.params
}

// Push processes a NALU that begins with the 4-byte start code.
// It returns the frames that have been completed, if any.
// NALUs whose type can't be determined are skipped.
func (a *Assembler) Push(nalu []byte) []*frame.Frame {
	typ, ok := annexb.Type(nalu)
	if !ok {
		return nil
	}

	var out []*frame.Frame

	if fr := a.Tick(); fr != nil {
		out = append(out, fr)
	}

	switch typ {
	case h264.NALUTypeSPS:
		a.params.SPS = nalu

	case h264.NALUTypePPS:
		a.params.PPS = nalu

	case h264.NALUTypeAccessUnitDelimiter:
		out = a.flushTo(out)

	case h264.NALUTypeSEI:
		if a.SEI == SEIRetain {
			out = a.add(out, nalu)
		}

	case h264.NALUTypeIDR:
		out = a.flushTo(out)

		if a.params.SPS != nil {
			out = a.add(out, a.params.SPS)
		}
		if a.params.PPS != nil {
			out = a.add(out, a.params.PPS)
		}
		out = a.add(out, nalu)

		if a.IDR == IDREager {
			out = a.flushTo(out)
		}

	case h264.NALUTypeNonIDR:
		if a.Policy == BoundaryFlush {
			out = a.flushTo(out)
		}
		out = a.add(out, nalu)

	default:
		out = a.add(out, nalu)
	}

	return out
}

// Tick flushes the access unit when it has been open for longer than Timeout.
// It has effect with DelimiterFlushWithTimeout only.
func (a *Assembler) Tick() *frame.Frame {
	if a.Policy != DelimiterFlushWithTimeout || len(a.au) == 0 {
		return nil
	}

	if a.TimeNow().Sub(a.openedAt) <= a.Timeout {
		return nil
	}

	return a.Flush()
}

// Flush emits the access unit in progress, if any.
func (a *Assembler) Flush() *frame.Frame {
	if len(a.au) == 0 {
		return nil
	}

	data := make([]byte, a.auSize)
	n := 0
	for _, nalu := range a.au {
		n += copy(data[n:], nalu)
	}

	fr := &frame.Frame{
		Timestamp: a.TimeNow(),
		Data:      data,
		Format:    frame.FormatH264,
		FrameID:   a.FrameID,
	}

	clear(a.au)
	a.au = a.au[:0]
	a.auSize = 0

	return fr
}

func (a *Assembler) flushTo(out []*frame.Frame) []*frame.Frame {
	if fr := a.Flush(); fr != nil {
		out = append(out, fr)
	}
	return out
}

func (a *Assembler) add(out []*frame.Frame, nalu []byte) []*frame.Frame {
	// an access unit can't grow indefinitely when delimiters are missing
	if (len(a.au)+1) > h264.MaxNALUsPerAccessUnit ||
		(a.auSize+len(nalu)) > h264.MaxAccessUnitSize {
		out = a.flushTo(out)
	}

	if len(a.au) == 0 {
		a.openedAt = a.TimeNow()
	}

	a.au = append(a.au, nalu)
	a.auSize += len(nalu)

	return out
}
