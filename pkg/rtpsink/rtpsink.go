// Package rtpsink contains a frame sink that streams frames with RTP/RTCP over UDP.
package rtpsink

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtcp"
	"golang.org/x/net/ipv4"

	"github.com/bluenviron/h264framer/pkg/description"
	"github.com/bluenviron/h264framer/pkg/frame"
	"github.com/bluenviron/h264framer/pkg/rtcpsender"
	"github.com/bluenviron/h264framer/pkg/rtph264"
)

const (
	// same size as GStreamer's rtspsrc
	defaultMulticastTTL = 16

	udpMaxPayloadSize = 1472 // 1500 (UDP MTU) - 20 (IP header) - 8 (UDP header)
)

// Sink streams frames with RTP to a fixed destination.
// RTCP sender reports are sent to the port that follows the RTP one.
type Sink struct {
	// destination of RTP packets, in the host:port format.
	// It can be a multicast address.
	Address string

	// payload type of RTP packets (optional).
	// It defaults to 96.
	PayloadType uint8

	// maximum size of RTP payloads (optional).
	PayloadMaxSize int

	// period of RTCP sender reports (optional).
	// It defaults to 10 seconds.
	RTCPPeriod time.Duration

	// TTL of multicast packets (optional).
	// It defaults to 16.
	MulticastTTL int

	// interface used to send multicast packets (optional).
	MulticastInterface *net.Interface

	// function used to initialize the UDP socket (optional).
	// It defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)

	// called when a RTCP packet can't be sent (optional).
	OnError func(error)

	mutex      sync.Mutex
	rtpAddr    *net.UDPAddr
	rtcpAddr   *net.UDPAddr
	pc         net.PacketConn
	encoder    *rtph264.Encoder
	rtcpSender *rtcpsender.RTCPSender
	sps        []byte
	pps        []byte
}

// Initialize opens the UDP socket.
func (s *Sink) Initialize() error {
	if s.MulticastTTL == 0 {
		s.MulticastTTL = defaultMulticastTTL
	}
	if s.ListenPacket == nil {
		s.ListenPacket = net.ListenPacket
	}
	if s.OnError == nil {
		s.OnError = func(error) {}
	}

	var err error
	s.rtpAddr, err = net.ResolveUDPAddr("udp4", s.Address)
	if err != nil {
		return err
	}

	if s.rtpAddr.Port == 0 || s.rtpAddr.Port >= 65535 {
		return fmt.Errorf("invalid port: %d", s.rtpAddr.Port)
	}

	s.rtcpAddr = &net.UDPAddr{
		IP:   s.rtpAddr.IP,
		Port: s.rtpAddr.Port + 1,
	}

	s.encoder = &rtph264.Encoder{
		PayloadType:    s.PayloadType,
		PayloadMaxSize: s.PayloadMaxSize,
	}
	err = s.encoder.Initialize()
	if err != nil {
		return err
	}

	if s.encoder.PayloadMaxSize > udpMaxPayloadSize-12 {
		return fmt.Errorf("payload max size (%d) exceeds the UDP payload size", s.encoder.PayloadMaxSize)
	}

	s.pc, err = s.ListenPacket("udp4", ":0")
	if err != nil {
		return err
	}

	if s.rtpAddr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(s.pc)

		err = p.SetMulticastTTL(s.MulticastTTL)
		if err != nil {
			s.pc.Close() //nolint:errcheck
			return err
		}

		if s.MulticastInterface != nil {
			err = p.SetMulticastInterface(s.MulticastInterface)
			if err != nil {
				s.pc.Close() //nolint:errcheck
				return err
			}
		}
	}

	s.rtcpSender = &rtcpsender.RTCPSender{
		ClockRate: rtph264.ClockRate,
		Period:    s.RTCPPeriod,
		OnReport:  s.writeSenderReport,
	}
	s.rtcpSender.Initialize()

	return nil
}

// Close closes the socket.
func (s *Sink) Close() {
	s.rtcpSender.Close()
	s.pc.Close() //nolint:errcheck
}

func (s *Sink) writeSenderReport(sr *rtcp.SenderReport) {
	byts, err := sr.Marshal()
	if err != nil {
		s.OnError(err)
		return
	}

	_, err = s.pc.WriteTo(byts, s.rtcpAddr)
	if err != nil {
		s.OnError(err)
	}
}

// WriteFrame implements sink.Sink.
func (s *Sink) WriteFrame(fr *frame.Frame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pkts, err := s.encoder.Encode(fr)
	if err != nil {
		return err
	}

	s.updateParameterSets(fr)

	for _, pkt := range pkts {
		byts, err := pkt.Marshal()
		if err != nil {
			return err
		}

		_, err = s.pc.WriteTo(byts, s.rtpAddr)
		if err != nil {
			return err
		}

		s.rtcpSender.PacketSent(pkt, fr.Timestamp)
	}

	return nil
}

func (s *Sink) updateParameterSets(fr *frame.Frame) {
	au, err := fr.NALUs()
	if err != nil {
		return
	}

	for _, nalu := range au {
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			s.sps = nalu
		case h264.NALUTypePPS:
			s.pps = nalu
		}
	}
}

// Description returns the SDP description of the stream.
// Parameter sets are filled with the last ones seen in frames.
func (s *Sink) Description() *description.Session {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return &description.Session{
		Title:        "h264framer",
		Address:      s.rtpAddr.IP.String(),
		Port:         s.rtpAddr.Port,
		PayloadType:  s.encoder.PayloadType,
		SPS:          s.sps,
		PPS:          s.pps,
		MulticastTTL: s.MulticastTTL,
	}
}

// Stats returns statistics about sent packets.
func (s *Sink) Stats() *rtcpsender.Stats {
	return s.rtcpSender.Stats()
}
