package rtpsink

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/h264framer/pkg/annexb"
	"github.com/bluenviron/h264framer/pkg/frame"
	"github.com/bluenviron/h264framer/pkg/ntp"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21}
)

// listenPair opens two UDP sockets on consecutive ports.
func listenPair(t *testing.T) (net.PacketConn, net.PacketConn) {
	for range 20 {
		rtpConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)

		port := rtpConn.LocalAddr().(*net.UDPAddr).Port
		if port >= 65535 {
			rtpConn.Close()
			continue
		}

		rtcpConn, err := net.ListenPacket("udp4", "127.0.0.1:"+strconv.Itoa(port+1))
		if err != nil {
			rtpConn.Close()
			continue
		}

		return rtpConn, rtcpConn
	}

	t.Fatal("unable to find two consecutive ports")
	return nil, nil
}

func TestSink(t *testing.T) {
	rtpConn, rtcpConn := listenPair(t)
	defer rtpConn.Close()
	defer rtcpConn.Close()

	s := &Sink{
		Address:    rtpConn.LocalAddr().String(),
		RTCPPeriod: 100 * time.Millisecond,
		OnError: func(err error) {
			t.Errorf("unexpected error: %v", err)
		},
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	var data []byte
	for _, nalu := range [][]byte{testSPS, testPPS, testIDR} {
		data = append(data, annexb.Normalize(nalu)...)
	}

	ts := time.Now()

	err = s.WriteFrame(&frame.Frame{
		Timestamp: ts,
		Data:      data,
		Format:    frame.FormatH264,
	})
	require.NoError(t, err)

	buf := make([]byte, 2048)

	err = rtpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	n, _, err := rtpConn.ReadFrom(buf)
	require.NoError(t, err)

	var pkt rtp.Packet
	err = pkt.Unmarshal(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint8(96), pkt.PayloadType)
	require.True(t, pkt.Marker)
	require.Equal(t, uint8(24), pkt.Payload[0]&0x1F) // STAP-A

	err = rtcpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	n, _, err = rtcpConn.ReadFrom(buf)
	require.NoError(t, err)

	pkts, err := rtcp.Unmarshal(buf[:n])
	require.NoError(t, err)
	sr, ok := pkts[0].(*rtcp.SenderReport)
	require.True(t, ok)
	require.Equal(t, pkt.SSRC, sr.SSRC)
	require.Equal(t, uint32(1), sr.PacketCount)
	require.WithinDuration(t, ts, ntp.Decode(sr.NTPTime), time.Second)

	stats := s.Stats()
	require.NotNil(t, stats)
	require.Equal(t, uint32(1), stats.PacketCount)

	desc := s.Description()
	require.Equal(t, "127.0.0.1", desc.Address)
	require.Equal(t, rtpConn.LocalAddr().(*net.UDPAddr).Port, desc.Port)
	require.Equal(t, testSPS, desc.SPS)
	require.Equal(t, testPPS, desc.PPS)
}

func TestSinkInvalidFormat(t *testing.T) {
	s := &Sink{
		Address: "127.0.0.1:5004",
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.WriteFrame(&frame.Frame{Format: "mjpeg"})
	require.EqualError(t, err, "unsupported frame format 'mjpeg'")
}

func TestSinkMulticast(t *testing.T) {
	s := &Sink{
		Address:      "239.255.0.1:6000",
		MulticastTTL: 4,
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	byts, err := s.Description().Marshal()
	require.NoError(t, err)
	require.Contains(t, string(byts), "c=IN IP4 239.255.0.1/4\r\n")
}

func TestSinkInitializeErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		sink *Sink
		err  string
	}{
		{
			"missing port",
			&Sink{Address: "127.0.0.1:0"},
			"invalid port: 0",
		},
		{
			"payload too big",
			&Sink{Address: "127.0.0.1:5004", PayloadMaxSize: 2000},
			"payload max size (2000) exceeds the UDP payload size",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ca.sink.Initialize()
			require.EqualError(t, err, ca.err)
		})
	}
}
