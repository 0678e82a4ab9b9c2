package rtph264

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/bluenviron/h264framer/pkg/frame"
)

const (
	rtpVersion            = 2
	defaultPayloadType    = 96
	defaultPayloadMaxSize = 1460 // 1500 (UDP MTU) - 20 (IP header) - 8 (UDP header) - 12 (RTP header)
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func durationToRTP(d time.Duration) int64 {
	secs := d / time.Second
	dec := d % time.Second
	return int64(secs)*ClockRate + int64(dec)*ClockRate/int64(time.Second)
}

func lenAggregated(nalus [][]byte, addNALU []byte) int {
	n := 1 // header

	for _, nalu := range nalus {
		n += 2         // size
		n += len(nalu) // nalu
	}

	if addNALU != nil {
		n += 2            // size
		n += len(addNALU) // nalu
	}

	return n
}

func packetCount(avail, le int) int {
	n := le / avail
	if (le % avail) != 0 {
		n++
	}
	return n
}

// Encoder wraps frames into RTP/H264 packets, in non-interleaved mode (packetization-mode=1).
// Specification: https://datatracker.ietf.org/doc/html/rfc6184
type Encoder struct {
	// payload type of packets (optional).
	// It defaults to 96.
	PayloadType uint8

	// SSRC of packets (optional).
	// It defaults to a random value.
	SSRC *uint32

	// initial sequence number of packets (optional).
	// It defaults to a random value.
	InitialSequenceNumber *uint16

	// RTP timestamp of the first frame (optional).
	// It defaults to a random value.
	InitialTimestamp *uint32

	// maximum size of packet payloads (optional).
	// It defaults to 1460.
	PayloadMaxSize int

	sequenceNumber uint16
	firstFrameTime time.Time
	firstFrameSent bool
}

// Initialize initializes the encoder.
func (e *Encoder) Initialize() error {
	if e.PayloadType == 0 {
		e.PayloadType = defaultPayloadType
	}
	if e.SSRC == nil {
		v, err := randUint32()
		if err != nil {
			return err
		}
		e.SSRC = &v
	}
	if e.InitialSequenceNumber == nil {
		v, err := randUint32()
		if err != nil {
			return err
		}
		v2 := uint16(v)
		e.InitialSequenceNumber = &v2
	}
	if e.InitialTimestamp == nil {
		v, err := randUint32()
		if err != nil {
			return err
		}
		e.InitialTimestamp = &v
	}
	if e.PayloadMaxSize == 0 {
		e.PayloadMaxSize = defaultPayloadMaxSize
	}

	e.sequenceNumber = *e.InitialSequenceNumber
	return nil
}

// Timestamp returns the RTP timestamp of a frame captured at t.
// Timestamps are relative to the first encoded frame.
func (e *Encoder) Timestamp(t time.Time) uint32 {
	if !e.firstFrameSent {
		return *e.InitialTimestamp
	}
	return uint32(int64(*e.InitialTimestamp) + durationToRTP(t.Sub(e.firstFrameTime)))
}

// Encode encodes a frame into RTP/H264 packets.
// All packets share the timestamp of the frame; the last one has the marker bit set.
func (e *Encoder) Encode(fr *frame.Frame) ([]*rtp.Packet, error) {
	if fr.Format != frame.FormatH264 {
		return nil, fmt.Errorf("unsupported frame format '%s'", fr.Format)
	}

	au, err := fr.NALUs()
	if err != nil {
		return nil, err
	}

	if !e.firstFrameSent {
		e.firstFrameSent = true
		e.firstFrameTime = fr.Timestamp
	}

	ts := e.Timestamp(fr.Timestamp)

	var rets []*rtp.Packet
	var batch [][]byte

	// split NALUs into batches
	for _, nalu := range au {
		if lenAggregated(batch, nalu) <= e.PayloadMaxSize {
			// add to existing batch
			batch = append(batch, nalu)
		} else {
			// write current batch
			if batch != nil {
				rets = append(rets, e.writeBatch(batch, ts, false)...)
			}

			// initialize new batch
			batch = [][]byte{nalu}
		}
	}

	// write final batch
	// marker is used to indicate when all NALUs with same timestamp have been sent
	rets = append(rets, e.writeBatch(batch, ts, true)...)

	return rets, nil
}

func (e *Encoder) newPacket(ts uint32, marker bool, payload []byte) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        rtpVersion,
			PayloadType:    e.PayloadType,
			SequenceNumber: e.sequenceNumber,
			Timestamp:      ts,
			SSRC:           *e.SSRC,
			Marker:         marker,
		},
		Payload: payload,
	}
	e.sequenceNumber++
	return pkt
}

func (e *Encoder) writeBatch(nalus [][]byte, ts uint32, marker bool) []*rtp.Packet {
	if len(nalus) == 1 {
		// the NALU fits into a single RTP packet
		if len(nalus[0]) < e.PayloadMaxSize {
			return []*rtp.Packet{e.newPacket(ts, marker, nalus[0])}
		}

		// split the NALU into multiple fragmentation packet
		return e.writeFragmented(nalus[0], ts, marker)
	}

	return []*rtp.Packet{e.writeAggregated(nalus, ts, marker)}
}

func (e *Encoder) writeFragmented(nalu []byte, ts uint32, marker bool) []*rtp.Packet {
	// use only FU-A, not FU-B, since we always use non-interleaved mode
	avail := e.PayloadMaxSize - 2
	le := len(nalu) - 1
	n := packetCount(avail, le)

	ret := make([]*rtp.Packet, n)

	nri := (nalu[0] >> 5) & 0x03
	typ := nalu[0] & 0x1F
	nalu = nalu[1:] // remove header
	le = avail
	start := uint8(1)
	end := uint8(0)

	for i := range ret {
		if i == (n - 1) {
			end = 1
			le = len(nalu)
		}

		data := make([]byte, 2+le)
		data[0] = (nri << 5) | uint8(h264.NALUTypeFUA)
		data[1] = (start << 7) | (end << 6) | typ
		copy(data[2:], nalu)
		nalu = nalu[le:]

		ret[i] = e.newPacket(ts, i == (n-1) && marker, data)
		start = 0
	}

	return ret
}

func (e *Encoder) writeAggregated(nalus [][]byte, ts uint32, marker bool) *rtp.Packet {
	payload := make([]byte, lenAggregated(nalus, nil))

	// header
	payload[0] = uint8(h264.NALUTypeSTAPA)
	pos := 1

	for _, nalu := range nalus {
		// size
		naluLen := len(nalu)
		payload[pos] = uint8(naluLen >> 8)
		payload[pos+1] = uint8(naluLen)
		pos += 2

		// nalu
		copy(payload[pos:], nalu)
		pos += naluLen
	}

	return e.newPacket(ts, marker, payload)
}
