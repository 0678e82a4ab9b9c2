// Package rtcpsender contains a utility to generate RTCP sender reports.
package rtcpsender

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/h264framer/pkg/ntp"
)

const (
	defaultPeriod = 10 * time.Second
)

// anchor links the RTP timestamp of the last frame sent to its capture time.
type anchor struct {
	rtpTime uint32
	capture time.Time
	sentAt  time.Time
}

// rtpElapsed converts a duration into RTP clock ticks.
func rtpElapsed(d time.Duration, clockRate int) uint32 {
	secs := int64(d / time.Second)
	rest := int64(d % time.Second)
	return uint32(secs*int64(clockRate) + rest*int64(clockRate)/int64(time.Second))
}

// RTCPSender generates RTCP sender reports, that allow receivers
// to map RTP timestamps to the capture time of frames.
type RTCPSender struct {
	// clock rate of RTP timestamps.
	ClockRate int

	// period of sender reports (optional).
	// It defaults to 10 seconds.
	Period time.Duration

	// function used to obtain the current time (optional).
	// It defaults to time.Now.
	TimeNow func() time.Time

	// called when a report is ready.
	OnReport func(*rtcp.SenderReport)

	mutex  sync.Mutex
	last   *anchor
	ssrc   uint32
	pkts   uint32
	octets uint32

	terminate chan struct{}
	done      chan struct{}
}

// Initialize initializes a RTCPSender and starts sending periodic reports.
func (rs *RTCPSender) Initialize() {
	if rs.Period == 0 {
		rs.Period = defaultPeriod
	}
	if rs.TimeNow == nil {
		rs.TimeNow = time.Now
	}

	rs.terminate = make(chan struct{})
	rs.done = make(chan struct{})

	go rs.run()
}

// Close stops periodic reports.
func (rs *RTCPSender) Close() {
	close(rs.terminate)
	<-rs.done
}

func (rs *RTCPSender) run() {
	defer close(rs.done)

	t := time.NewTicker(rs.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if sr := rs.SenderReport(); sr != nil {
				rs.OnReport(sr)
			}

		case <-rs.terminate:
			return
		}
	}
}

// SenderReport returns a report that maps the current time
// to both clocks. It is nil until a packet has been sent.
func (rs *RTCPSender) SenderReport() *rtcp.SenderReport {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.last == nil {
		return nil
	}

	elapsed := rs.TimeNow().Sub(rs.last.sentAt)

	return &rtcp.SenderReport{
		SSRC:        rs.ssrc,
		NTPTime:     ntp.Encode(rs.last.capture.Add(elapsed)),
		RTPTime:     rs.last.rtpTime + rtpElapsed(elapsed, rs.ClockRate),
		PacketCount: rs.pkts,
		OctetCount:  rs.octets,
	}
}

// PacketSent accounts a RTP packet that carries part of a frame
// captured at the given time.
func (rs *RTCPSender) PacketSent(pkt *rtp.Packet, capture time.Time) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	rs.last = &anchor{
		rtpTime: pkt.Timestamp,
		capture: capture,
		sentAt:  rs.TimeNow(),
	}
	rs.ssrc = pkt.SSRC
	rs.pkts++
	rs.octets += uint32(len(pkt.Payload))
}

// Stats are statistics about sent packets.
type Stats struct {
	SSRC        uint32
	PacketCount uint32
	OctetCount  uint32
	// capture time of the last frame sent.
	LastFrame time.Time
}

// Stats returns statistics, or nil if no packet has been sent yet.
func (rs *RTCPSender) Stats() *Stats {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.last == nil {
		return nil
	}

	return &Stats{
		SSRC:        rs.ssrc,
		PacketCount: rs.pkts,
		OctetCount:  rs.octets,
		LastFrame:   rs.last.capture,
	}
}
