// Package annexb contains utilities to extract NALUs from a H264 Annex-B byte stream.
package annexb

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// StartCode is the start code that prefixes every NALU returned by this package.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

type startPos struct {
	pos  int
	size int
}

func (s startPos) end() int {
	return s.pos + s.size
}

// startCodeAt returns the size of the start code that begins at i, or zero.
func startCodeAt(buf []byte, i int) int {
	if (i+3) > len(buf) || buf[i] != 0 || buf[i+1] != 0 {
		return 0
	}

	switch buf[i+2] {
	case 1:
		return 3

	case 0:
		if (i+4) <= len(buf) && buf[i+3] == 1 {
			return 4
		}
	}

	return 0
}

// findStarts appends to starts every start code found in buf, beginning at from.
// It returns the position from which a following scan must resume:
// matches before it are final, while the last bytes of buf
// may still turn into a start code when more data arrives.
func findStarts(buf []byte, from int, starts []startPos) ([]startPos, int) {
	i := from

	for (i + 3) <= len(buf) {
		n := startCodeAt(buf, i)
		if n == 0 {
			i++
			continue
		}

		starts = append(starts, startPos{pos: i, size: n})
		i += n
	}

	next := len(buf) - 3
	if next < from {
		next = from
	}
	if len(starts) != 0 {
		if e := starts[len(starts)-1].end(); e > next {
			next = e
		}
	}

	return starts, next
}

// normalize returns the NALU with a 4-byte start code.
func normalize(unit []byte, startSize int) []byte {
	if startSize == len(StartCode) {
		return unit
	}

	ret := make([]byte, 1+len(unit))
	copy(ret[1:], unit)
	return ret
}

// splitUnits returns the NALUs delimited by consecutive starts,
// and the count of degenerate units that were dropped.
func splitUnits(buf []byte, starts []startPos) ([][]byte, int) {
	var nalus [][]byte
	dropped := 0

	for i := 0; i < (len(starts) - 1); i++ {
		nalu := normalize(buf[starts[i].pos:starts[i+1].pos], starts[i].size)

		// a NALU must contain at least the header byte
		if len(nalu) <= len(StartCode) {
			dropped++
			continue
		}

		nalus = append(nalus, nalu)
	}

	return nalus, dropped
}

// Extract extracts complete NALUs from an Annex-B buffer.
//
// Every returned NALU begins with the 4-byte start code.
// The data from the last start code to the end of the buffer
// can't be considered complete and is returned as tail;
// it must be prepended to the next chunk of the stream.
// Bytes that precede the first start code and units
// without a header byte are discarded.
func Extract(buf []byte) ([][]byte, []byte) {
	starts, _ := findStarts(buf, 0, nil)
	if len(starts) == 0 {
		return nil, buf
	}

	nalus, _ := splitUnits(buf, starts)
	return nalus, buf[starts[len(starts)-1].pos:]
}

// Type returns the type of a NALU that begins with the 4-byte start code.
// It returns false when the type can't be determined.
func Type(nalu []byte) (h264.NALUType, bool) {
	if len(nalu) <= len(StartCode) || !bytes.HasPrefix(nalu, StartCode) {
		return 0, false
	}

	return h264.NALUType(nalu[len(StartCode)] & 0x1F), true
}

// Payload returns the NALU without its start code.
func Payload(nalu []byte) []byte {
	return bytes.TrimPrefix(nalu, StartCode)
}

// Normalize prefixes a NALU without start code with the 4-byte start code.
func Normalize(payload []byte) []byte {
	ret := make([]byte, len(StartCode)+len(payload))
	n := copy(ret, StartCode)
	copy(ret[n:], payload)
	return ret
}
