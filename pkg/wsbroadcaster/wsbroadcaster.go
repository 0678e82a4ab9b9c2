// Package wsbroadcaster contains a frame sink that broadcasts frames to WebSocket clients.
package wsbroadcaster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bluenviron/h264framer/internal/asyncprocessor"
	"github.com/bluenviron/h264framer/pkg/frame"
)

const (
	defaultWriteQueueSize = 256
	defaultWriteTimeout   = 10 * time.Second
)

type client struct {
	id     uuid.UUID
	wc     *websocket.Conn
	writer *asyncprocessor.Processor
}

// Broadcaster is a http.Handler that upgrades requests to WebSocket
// and sends every frame to all connected clients, as binary messages
// that contain the frame envelope (see frame.Frame.Marshal).
// Frames are dropped for clients that can't keep up.
type Broadcaster struct {
	// size of the per-client write queue (optional).
	// It must be a power of two and defaults to 256.
	WriteQueueSize int

	// timeout of writes (optional).
	// It defaults to 10 seconds.
	WriteTimeout time.Duration

	// allowed origins (optional).
	// By default, only same-origin requests are accepted.
	CheckOrigin func(r *http.Request) bool

	// called when a client connects (optional).
	OnClientConnect func(id uuid.UUID)

	// called when a client disconnects (optional).
	OnClientDisconnect func(id uuid.UUID, err error)

	upgrader websocket.Upgrader
	mutex    sync.Mutex
	clients  map[uuid.UUID]*client
	closed   bool
	wg       sync.WaitGroup
	dropped  atomic.Uint64
}

// Initialize initializes the Broadcaster.
func (b *Broadcaster) Initialize() error {
	if b.WriteQueueSize == 0 {
		b.WriteQueueSize = defaultWriteQueueSize
	}
	if b.WriteTimeout == 0 {
		b.WriteTimeout = defaultWriteTimeout
	}
	if b.OnClientConnect == nil {
		b.OnClientConnect = func(uuid.UUID) {}
	}
	if b.OnClientDisconnect == nil {
		b.OnClientDisconnect = func(uuid.UUID, error) {}
	}

	if (b.WriteQueueSize & (b.WriteQueueSize - 1)) != 0 {
		return fmt.Errorf("WriteQueueSize must be a power of two")
	}

	b.upgrader = websocket.Upgrader{
		CheckOrigin: b.CheckOrigin,
	}
	b.clients = make(map[uuid.UUID]*client)

	return nil
}

// Close disconnects all clients and waits for their routines.
func (b *Broadcaster) Close() {
	b.mutex.Lock()
	b.closed = true
	for _, c := range b.clients {
		c.wc.Close() //nolint:errcheck
	}
	b.mutex.Unlock()

	b.wg.Wait()
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.clients)
}

// Dropped returns the count of frames that were not delivered to slow clients.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// ServeHTTP implements http.Handler.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{
		id: uuid.New(),
	}
	c.writer = &asyncprocessor.Processor{
		BufferSize: b.WriteQueueSize,
		// write errors close the connection and are reported by the reader.
		OnError: func(context.Context, error) {
			c.wc.Close() //nolint:errcheck
		},
	}
	err := c.writer.Initialize()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	c.wc, err = b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := c.wc

	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		wc.Close() //nolint:errcheck
		return
	}
	b.clients[c.id] = c
	b.wg.Add(1)
	b.mutex.Unlock()

	defer b.wg.Done()

	b.OnClientConnect(c.id)

	c.writer.Start()

	err = b.runReader(c)

	wc.Close() //nolint:errcheck
	c.writer.Close()

	b.mutex.Lock()
	delete(b.clients, c.id)
	b.mutex.Unlock()

	b.OnClientDisconnect(c.id, err)
}

// runReader consumes incoming messages, that are needed to process control frames,
// until the connection is closed.
func (b *Broadcaster) runReader(c *client) error {
	for {
		_, _, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

func (b *Broadcaster) writeMessage(c *client, msg []byte) error {
	c.wc.SetWriteDeadline(time.Now().Add(b.WriteTimeout)) //nolint:errcheck
	return c.wc.WriteMessage(websocket.BinaryMessage, msg)
}

// WriteFrame implements sink.Sink.
// It never blocks on clients.
func (b *Broadcaster) WriteFrame(fr *frame.Frame) error {
	msg, err := fr.Marshal()
	if err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, c := range b.clients {
		ok := c.writer.Push(func() error {
			return b.writeMessage(c, msg)
		})
		if !ok {
			b.dropped.Add(1)
		}
	}

	return nil
}
