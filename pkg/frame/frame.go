// Package frame contains the compressed video frame emitted for every access unit.
package frame

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// FormatH264 is the format of frames that contain a H264 access unit in Annex-B format.
const FormatH264 = "h264"

// Frame is a compressed video frame.
type Frame struct {
	// time at which the access unit has been completed.
	Timestamp time.Time

	// NALUs of the access unit, each one prefixed by a 4-byte start code.
	Data []byte

	// format of Data.
	Format string

	// source tag (optional).
	FrameID string
}

// NALUs returns the NALUs of the frame, without start codes.
func (f *Frame) NALUs() ([][]byte, error) {
	var au h264.AnnexB
	err := au.Unmarshal(f.Data)
	if err != nil {
		return nil, err
	}
	return au, nil
}

// IsRandomAccess checks whether the frame contains an IDR.
func (f *Frame) IsRandomAccess() bool {
	nalus, err := f.NALUs()
	if err != nil {
		return false
	}

	for _, nalu := range nalus {
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

func (f Frame) marshalSize() int {
	return 8 + 1 + len(f.Format) + 2 + len(f.FrameID) + len(f.Data)
}

// Marshal encodes the frame into the envelope used by network outputs.
func (f Frame) Marshal() ([]byte, error) {
	if len(f.Format) > 255 {
		return nil, fmt.Errorf("format is too long")
	}
	if len(f.FrameID) > 65535 {
		return nil, fmt.Errorf("frame ID is too long")
	}

	buf := make([]byte, f.marshalSize())
	binary.BigEndian.PutUint64(buf, uint64(f.Timestamp.UnixNano()))
	pos := 8

	buf[pos] = uint8(len(f.Format))
	pos++
	pos += copy(buf[pos:], f.Format)

	binary.BigEndian.PutUint16(buf[pos:], uint16(len(f.FrameID)))
	pos += 2
	pos += copy(buf[pos:], f.FrameID)

	copy(buf[pos:], f.Data)

	return buf, nil
}

// Unmarshal decodes a frame from the envelope used by network outputs.
func (f *Frame) Unmarshal(buf []byte) error {
	if len(buf) < 9 {
		return fmt.Errorf("buffer is too short")
	}

	f.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(buf)))
	pos := 8

	le := int(buf[pos])
	pos++
	if (len(buf) - pos) < (le + 2) {
		return fmt.Errorf("buffer is too short")
	}
	f.Format = string(buf[pos : pos+le])
	pos += le

	le = int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2
	if (len(buf) - pos) < le {
		return fmt.Errorf("buffer is too short")
	}
	f.FrameID = string(buf[pos : pos+le])
	pos += le

	f.Data = make([]byte, len(buf)-pos)
	copy(f.Data, buf[pos:])

	return nil
}
