// Package h264framer is a H264 Annex-B framer. It reads the byte stream
// produced by an encoder, splits it into NALUs and groups them into frames.
package h264framer

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/bluenviron/h264framer/pkg/annexb"
	"github.com/bluenviron/h264framer/pkg/assembler"
	"github.com/bluenviron/h264framer/pkg/bytecounter"
	"github.com/bluenviron/h264framer/pkg/frame"
	"github.com/bluenviron/h264framer/pkg/liberrors"
	"github.com/bluenviron/h264framer/pkg/multibuffer"
)

const (
	defaultReadBufferSize = 4096

	// one buffer is filled by the reader while the other one is processed.
	readBufferCount = 2

	minTickPeriod = time.Millisecond
)

// Stats are session statistics.
type Stats struct {
	BytesReceived uint64
	NALUsReceived uint64
	NALUsDropped  uint64
	NALUsTooBig   uint64
	FramesEmitted uint64
}

// Session reads an Annex-B byte stream and emits frames.
type Session struct {
	//
	// source
	//
	// byte stream produced by the encoder.
	Source io.Reader
	// size of each read (optional).
	// It defaults to 4096.
	ReadBufferSize int
	// maximum size of a NALU (optional).
	// It defaults to h264.MaxAccessUnitSize.
	MaxNALUSize int

	//
	// framing
	//
	// policy used to detect the end of a frame.
	// It defaults to assembler.BoundaryFlush.
	Policy assembler.FlushPolicy
	// maximum time a frame can stay open (optional).
	// It is used by assembler.DelimiterFlushWithTimeout only.
	// It defaults to 500ms.
	Timeout time.Duration
	// what to do with SEI NALUs.
	SEI assembler.SEIMode
	// what to do with frames that begin with an IDR.
	IDR assembler.IDRMode
	// source tag copied into every frame (optional).
	FrameID string
	// period of timeout checks (optional).
	// It defaults to Timeout / 5, and is never shorter than 1ms.
	TickPeriod time.Duration

	//
	// system functions (all optional)
	//
	// function used to timestamp frames.
	TimeNow func() time.Time

	//
	// callbacks (all optional)
	//
	// called when a frame is complete.
	// Returning an error terminates the session.
	OnFrame func(*frame.Frame) error
	// called when a NALU is extracted.
	OnNALU func([]byte)
	// called when a non-fatal decode error occurs.
	OnDecodeError func(error)

	source    *bytecounter.Reader
	extractor *annexb.Extractor
	assembler *assembler.Assembler
	ctx       context.Context
	ctxCancel func()

	nalusReceived atomic.Uint64
	nalusDropped  atomic.Uint64
	nalusTooBig   atomic.Uint64
	framesEmitted atomic.Uint64

	// in
	chunks  chan []byte
	readErr chan error

	// out
	done       chan struct{}
	closeError error
}

// Start starts the session.
func (s *Session) Start() error {
	if s.Source == nil {
		return liberrors.ErrSessionSourceMissing{}
	}

	if s.ReadBufferSize == 0 {
		s.ReadBufferSize = defaultReadBufferSize
	}
	if s.TimeNow == nil {
		s.TimeNow = time.Now
	}
	if s.OnFrame == nil {
		s.OnFrame = func(*frame.Frame) error {
			return nil
		}
	}
	if s.OnNALU == nil {
		s.OnNALU = func([]byte) {}
	}
	if s.OnDecodeError == nil {
		s.OnDecodeError = func(error) {}
	}

	if s.TickPeriod < 0 {
		return liberrors.ErrSessionInvalidTimeout{Timeout: s.TickPeriod}
	}

	s.assembler = &assembler.Assembler{
		Policy:  s.Policy,
		Timeout: s.Timeout,
		SEI:     s.SEI,
		IDR:     s.IDR,
		FrameID: s.FrameID,
		TimeNow: s.TimeNow,
	}
	err := s.assembler.Initialize()
	if err != nil {
		return err
	}

	s.Timeout = s.assembler.Timeout
	if s.TickPeriod == 0 {
		s.TickPeriod = s.Timeout / 5
	}
	if s.TickPeriod < minTickPeriod {
		s.TickPeriod = minTickPeriod
	}

	s.extractor = &annexb.Extractor{
		MaxNALUSize: s.MaxNALUSize,
	}
	s.extractor.Initialize()

	s.source = bytecounter.NewReader(s.Source)
	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.chunks = make(chan []byte)
	s.readErr = make(chan error)
	s.done = make(chan struct{})

	go s.runReader()
	go s.run()

	return nil
}

// Close closes the session and waits for the last frame to be emitted.
// The source is not closed; a pending read is abandoned.
func (s *Session) Close() {
	s.ctxCancel()
	<-s.done
}

// Wait waits until the session is terminated, because the stream has ended,
// a fatal error occurred or Close() was called.
// It returns nil when the stream has ended.
func (s *Session) Wait() error {
	<-s.done
	return s.closeError
}

// Stats returns session statistics.
func (s *Session) Stats() *Stats {
	ret := &Stats{
		NALUsReceived: s.nalusReceived.Load(),
		NALUsDropped:  s.nalusDropped.Load(),
		NALUsTooBig:   s.nalusTooBig.Load(),
		FramesEmitted: s.framesEmitted.Load(),
	}
	if s.source != nil {
		ret.BytesReceived = s.source.BytesReceived()
	}
	return ret
}

func (s *Session) runReader() {
	mb := multibuffer.New(readBufferCount, s.ReadBufferSize)
	buf := mb.Next()

	for {
		n, err := s.source.Read(buf)

		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.ctx.Done():
				return
			}
			buf = mb.Next()
		}

		if err != nil {
			select {
			case s.readErr <- err:
			case <-s.ctx.Done():
			}
			return
		}
	}
}

func (s *Session) run() {
	defer close(s.done)

	s.closeError = s.runInner()

	s.ctxCancel()
}

func (s *Session) runInner() error {
	var tick <-chan time.Time

	if s.Policy == assembler.DelimiterFlushWithTimeout {
		t := time.NewTicker(s.TickPeriod)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case chunk := <-s.chunks:
			err := s.processChunk(chunk)
			if err != nil {
				return err
			}

		case <-tick:
			if fr := s.assembler.Tick(); fr != nil {
				err := s.emit(fr)
				if err != nil {
					return err
				}
			}

		case err := <-s.readErr:
			eof := errors.Is(err, io.EOF)

			err2 := s.flush(eof)
			if err2 != nil {
				return err2
			}

			if eof {
				return nil
			}
			return liberrors.ErrSessionSourceRead{Err: err}

		case <-s.ctx.Done():
			err := s.flush(false)
			if err != nil {
				return err
			}
			return liberrors.ErrSessionTerminated{}
		}
	}
}

func (s *Session) processChunk(chunk []byte) error {
	nalus, err := s.extractor.Write(chunk)
	if err != nil {
		s.nalusTooBig.Add(1)
		s.OnDecodeError(err)
	}
	s.nalusDropped.Store(s.extractor.DroppedUnits())

	for _, nalu := range nalus {
		err = s.processNALU(nalu)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) processNALU(nalu []byte) error {
	s.nalusReceived.Add(1)
	s.OnNALU(nalu)

	for _, fr := range s.assembler.Push(nalu) {
		err := s.emit(fr)
		if err != nil {
			return err
		}
	}

	return nil
}

// flush emits the frame in progress when the loop ends.
// The extractor tail is a complete NALU only when the stream has ended;
// otherwise it may be truncated and is discarded.
func (s *Session) flush(streamEnded bool) error {
	if streamEnded {
		for _, nalu := range s.extractor.Flush() {
			err := s.processNALU(nalu)
			if err != nil {
				return err
			}
		}
		s.nalusDropped.Store(s.extractor.DroppedUnits())
	} else {
		s.extractor.Reset()
	}

	if fr := s.assembler.Flush(); fr != nil {
		return s.emit(fr)
	}

	return nil
}

func (s *Session) emit(fr *frame.Frame) error {
	s.framesEmitted.Add(1)

	err := s.OnFrame(fr)
	if err != nil {
		return liberrors.ErrSessionSinkWrite{Err: err}
	}

	return nil
}
