package tsrecorder

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/h264framer/pkg/annexb"
	"github.com/bluenviron/h264framer/pkg/frame"
)

var (
	testSPS    = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	testPPS    = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR    = []byte{0x65, 0x88, 0x84, 0x21}
	testNonIDR = []byte{0x41, 0x9a, 0x24, 0x6c}
)

func testFrame(ts time.Time, nalus ...[]byte) *frame.Frame {
	var data []byte
	for _, nalu := range nalus {
		data = append(data, annexb.Normalize(nalu)...)
	}
	return &frame.Frame{
		Timestamp: ts,
		Data:      data,
		Format:    frame.FormatH264,
	}
}

// the MPEG-TS muxer is allowed to prepend access unit delimiters.
func withoutAUD(au [][]byte) [][]byte {
	var ret [][]byte
	for _, nalu := range au {
		if h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeAccessUnitDelimiter {
			ret = append(ret, nalu)
		}
	}
	return ret
}

func TestRecorder(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "capture.ts")

	r := &Recorder{
		FileName: fileName,
		OnDecodeError: func(err error) {
			t.Errorf("unexpected error: %v", err)
		},
	}
	err := r.Initialize()
	require.NoError(t, err)

	t0 := time.Date(2008, 5, 20, 22, 15, 20, 0, time.UTC)

	// skipped: no IDR received yet
	err = r.WriteFrame(testFrame(t0, testNonIDR))
	require.NoError(t, err)
	require.Equal(t, uint64(0), r.Written())

	err = r.WriteFrame(testFrame(t0.Add(100*time.Millisecond), testSPS, testPPS, testIDR))
	require.NoError(t, err)

	err = r.WriteFrame(testFrame(t0.Add(200*time.Millisecond), testNonIDR))
	require.NoError(t, err)

	err = r.WriteFrame(testFrame(t0.Add(300*time.Millisecond), testNonIDR))
	require.NoError(t, err)

	require.Equal(t, uint64(3), r.Written())

	spsp := r.SPS()
	require.NotNil(t, spsp)
	require.Equal(t, 320, spsp.Width())
	require.Equal(t, 240, spsp.Height())

	err = r.Close()
	require.NoError(t, err)

	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()

	mr := &mpegts.Reader{R: f}
	err = mr.Initialize()
	require.NoError(t, err)
	require.Len(t, mr.Tracks(), 1)

	var ptss []int64
	var aus [][][]byte

	mr.OnDataH264(mr.Tracks()[0], func(pts int64, _ int64, au [][]byte) error {
		ptss = append(ptss, pts)
		aus = append(aus, withoutAUD(au))
		return nil
	})

	for {
		err = mr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}

	require.Len(t, aus, 3)
	require.Equal(t, [][]byte{testSPS, testPPS, testIDR}, aus[0])
	require.Equal(t, [][]byte{testNonIDR}, aus[1])
	require.Equal(t, int64(9000), ptss[1]-ptss[0])
	require.Equal(t, int64(9000), ptss[2]-ptss[1])
}

func TestRecorderInvalidFormat(t *testing.T) {
	r := &Recorder{
		FileName: filepath.Join(t.TempDir(), "capture.ts"),
	}
	err := r.Initialize()
	require.NoError(t, err)
	defer r.Close()

	err = r.WriteFrame(&frame.Frame{Format: "mjpeg"})
	require.EqualError(t, err, "unsupported frame format 'mjpeg'")
}

func TestRecorderFileNameMissing(t *testing.T) {
	r := &Recorder{}
	err := r.Initialize()
	require.EqualError(t, err, "file name not provided")
}
