package wsbroadcaster

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/h264framer/pkg/frame"
)

func TestBroadcaster(t *testing.T) {
	connected := make(chan uuid.UUID, 2)
	disconnected := make(chan error, 2)

	b := &Broadcaster{
		OnClientConnect: func(id uuid.UUID) {
			connected <- id
		},
		OnClientDisconnect: func(_ uuid.UUID, err error) {
			disconnected <- err
		},
	}
	err := b.Initialize()
	require.NoError(t, err)

	s := httptest.NewServer(b)
	defer s.Close()
	defer b.Close()

	u := "ws" + strings.TrimPrefix(s.URL, "http")

	var conns []*websocket.Conn
	var ids []uuid.UUID

	for range 2 {
		wc, res, err2 := websocket.DefaultDialer.Dial(u, nil)
		require.NoError(t, err2)
		defer res.Body.Close()
		conns = append(conns, wc)
		ids = append(ids, <-connected)
	}

	require.NotEqual(t, ids[0], ids[1])
	require.Equal(t, 2, b.Clients())

	fr := &frame.Frame{
		Timestamp: time.Date(2008, 5, 20, 22, 15, 20, 0, time.UTC),
		Data:      []byte{0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21},
		Format:    frame.FormatH264,
		FrameID:   "cam1",
	}
	err = b.WriteFrame(fr)
	require.NoError(t, err)

	for _, wc := range conns {
		err = wc.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, err)

		typ, msg, err2 := wc.ReadMessage()
		require.NoError(t, err2)
		require.Equal(t, websocket.BinaryMessage, typ)

		var dec frame.Frame
		err2 = dec.Unmarshal(msg)
		require.NoError(t, err2)
		require.True(t, fr.Timestamp.Equal(dec.Timestamp))
		require.Equal(t, fr.Data, dec.Data)
		require.Equal(t, fr.Format, dec.Format)
		require.Equal(t, fr.FrameID, dec.FrameID)
	}

	err = conns[0].WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.NoError(t, err)
	require.NoError(t, <-disconnected)
	conns[0].Close()

	require.Equal(t, 1, b.Clients())

	b.Close()
	<-disconnected
	conns[1].Close()

	require.Equal(t, 0, b.Clients())
	require.Equal(t, uint64(0), b.Dropped())
}

func TestBroadcasterInvalidQueueSize(t *testing.T) {
	b := &Broadcaster{
		WriteQueueSize: 100,
	}
	err := b.Initialize()
	require.EqualError(t, err, "WriteQueueSize must be a power of two")
}

func TestBroadcasterWriteQueueError(t *testing.T) {
	// not initialized, so the queue size is not validated in advance.
	b := &Broadcaster{
		WriteQueueSize: 100,
	}

	s := httptest.NewServer(b)
	defer s.Close()

	u := "ws" + strings.TrimPrefix(s.URL, "http")

	_, res, err := websocket.DefaultDialer.Dial(u, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer res.Body.Close()
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	require.Equal(t, 0, b.Clients())
}
