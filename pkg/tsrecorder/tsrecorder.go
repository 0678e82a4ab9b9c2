// Package tsrecorder contains a frame sink that saves frames into a MPEG-TS file.
package tsrecorder

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/bluenviron/h264framer/pkg/frame"
)

func durationGoToMPEGTS(v time.Duration) int64 {
	return int64(v.Seconds() * 90000)
}

// Recorder saves frames into a MPEG-TS file.
// Timestamps of the file are derived from the capture time of frames.
type Recorder struct {
	// path of the file.
	FileName string

	// called when the timing of a frame can't be decoded (optional).
	// Frames are skipped until the next IDR.
	OnDecodeError func(error)

	mutex        sync.Mutex
	f            *os.File
	b            *bufio.Writer
	w            *mpegts.Writer
	track        *mpegts.Track
	dtsExtractor *h264.DTSExtractor
	sps          []byte
	pps          []byte
	spsp         *h264.SPS
	firstTime    time.Time
	written      uint64
}

// Initialize creates the file.
func (r *Recorder) Initialize() error {
	if r.FileName == "" {
		return fmt.Errorf("file name not provided")
	}

	if r.OnDecodeError == nil {
		r.OnDecodeError = func(error) {}
	}

	var err error
	r.f, err = os.Create(r.FileName)
	if err != nil {
		return err
	}
	r.b = bufio.NewWriter(r.f)

	r.track = &mpegts.Track{
		Codec: &mpegts.CodecH264{},
	}

	r.w = mpegts.NewWriter(r.b, []*mpegts.Track{r.track})

	return nil
}

// Close flushes buffered data and closes the file.
func (r *Recorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := r.b.Flush()
	err2 := r.f.Close()
	if err != nil {
		return err
	}
	return err2
}

// SPS returns the last parsed SPS, or nil if no valid SPS has been received yet.
func (r *Recorder) SPS() *h264.SPS {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.spsp
}

// Written returns the count of frames written into the file.
func (r *Recorder) Written() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.written
}

// WriteFrame implements sink.Sink.
// Frames that precede the first IDR are skipped.
func (r *Recorder) WriteFrame(fr *frame.Frame) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if fr.Format != frame.FormatH264 {
		return fmt.Errorf("unsupported frame format '%s'", fr.Format)
	}

	au, err := fr.NALUs()
	if err != nil {
		return err
	}

	var filteredAU [][]byte

	nonIDRPresent := false
	idrPresent := false

	for _, nalu := range au {
		typ := h264.NALUType(nalu[0] & 0x1F)
		switch typ {
		case h264.NALUTypeSPS:
			r.setSPS(nalu)
			continue

		case h264.NALUTypePPS:
			r.pps = nalu
			continue

		case h264.NALUTypeAccessUnitDelimiter:
			continue

		case h264.NALUTypeIDR:
			idrPresent = true

		case h264.NALUTypeNonIDR:
			nonIDRPresent = true
		}

		filteredAU = append(filteredAU, nalu)
	}

	au = filteredAU

	if au == nil || (!nonIDRPresent && !idrPresent) {
		return nil
	}

	// add SPS and PPS before access unit that contains an IDR
	if idrPresent {
		if r.sps == nil || r.pps == nil {
			return nil
		}
		au = append([][]byte{r.sps, r.pps}, au...)
	}

	if r.dtsExtractor == nil {
		// skip frames silently until we find one with a IDR
		if !idrPresent {
			return nil
		}
		r.dtsExtractor = h264.NewDTSExtractor()

		if r.firstTime.IsZero() {
			r.firstTime = fr.Timestamp
		}
	}

	pts := durationGoToMPEGTS(fr.Timestamp.Sub(r.firstTime))

	dts, err := r.dtsExtractor.Extract(au, pts)
	if err != nil {
		r.dtsExtractor = nil
		r.OnDecodeError(err)
		return nil
	}

	err = r.w.WriteH264(r.track, pts, dts, au)
	if err != nil {
		return err
	}

	r.written++
	return nil
}

func (r *Recorder) setSPS(nalu []byte) {
	r.sps = nalu

	var spsp h264.SPS
	err := spsp.Unmarshal(nalu)
	if err != nil {
		return
	}
	r.spsp = &spsp
}
