// Package description contains the SDP description of a RTP/H264 stream.
package description

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	psdp "github.com/pion/sdp/v3"
)

const (
	defaultMulticastTTL = 16
)

// Session is the description of a RTP/H264 stream sent to a fixed destination.
// It can be saved into a .sdp file and opened by any RTP receiver.
type Session struct {
	// title of the stream (optional).
	Title string

	// origin session ID (optional).
	// It defaults to a random value.
	SessionID uint64

	// destination address of RTP packets.
	Address string

	// destination port of RTP packets.
	// RTCP packets are sent to Port+1.
	Port int

	// payload type of RTP packets.
	PayloadType uint8

	// parameter sets of the stream (optional).
	SPS []byte
	PPS []byte

	// TTL of multicast packets (optional).
	// It defaults to 16.
	MulticastTTL int
}

func (d Session) fmtp() map[string]string {
	fmtp := map[string]string{
		"packetization-mode": "1",
	}

	var tmp []string
	if d.SPS != nil {
		tmp = append(tmp, base64.StdEncoding.EncodeToString(d.SPS))
	}
	if d.PPS != nil {
		tmp = append(tmp, base64.StdEncoding.EncodeToString(d.PPS))
	}
	if tmp != nil {
		fmtp["sprop-parameter-sets"] = strings.Join(tmp, ",")
	}
	if len(d.SPS) >= 4 {
		fmtp["profile-level-id"] = strings.ToUpper(hex.EncodeToString(d.SPS[1:4]))
	}

	return fmtp
}

func sortedKeys(fmtp map[string]string) []string {
	keys := make([]string, len(fmtp))
	i := 0
	for key := range fmtp {
		keys[i] = key
		i++
	}
	sort.Strings(keys)
	return keys
}

// Marshal encodes the description in SDP.
func (d Session) Marshal() ([]byte, error) {
	var sessionName psdp.SessionName
	if d.Title != "" {
		sessionName = psdp.SessionName(d.Title)
	} else {
		// RFC 4566: If a session has no meaningful name, the
		// value "s= " SHOULD be used (i.e., a single space as the session name).
		sessionName = psdp.SessionName(" ")
	}

	sessionID := d.SessionID
	if sessionID == 0 {
		id := uuid.New()
		sessionID = binary.BigEndian.Uint64(id[:8])
	}

	address := &psdp.Address{Address: d.Address}
	if ip := net.ParseIP(d.Address); ip != nil && ip.IsMulticast() {
		ttl := d.MulticastTTL
		if ttl == 0 {
			ttl = defaultMulticastTTL
		}
		address.TTL = &ttl
	}

	typ := strconv.FormatUint(uint64(d.PayloadType), 10)

	fmtp := d.fmtp()
	tmp := make([]string, len(fmtp))
	for i, key := range sortedKeys(fmtp) {
		tmp[i] = key + "=" + fmtp[key]
	}

	sout := &psdp.SessionDescription{
		SessionName: sessionName,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     address,
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{{
			MediaName: psdp.MediaName{
				Media:   "video",
				Port:    psdp.RangedPort{Value: d.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{typ},
			},
			Attributes: []psdp.Attribute{
				{
					Key:   "rtpmap",
					Value: typ + " H264/90000",
				},
				{
					Key:   "fmtp",
					Value: typ + " " + strings.Join(tmp, "; "),
				},
			},
		}},
	}

	return sout.Marshal()
}
