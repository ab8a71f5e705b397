package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"collabcode/internal/room"
)

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// Conn wraps one websocket connection. Outbound frames go through a
// buffered channel; a connection that can't keep up drops frames rather
// than blocking the broadcast.
type Conn struct {
	ID  string
	ws  *websocket.Conn
	out chan []byte
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ID:  uuid.NewString(),
		ws:  ws,
		out: make(chan []byte, 256),
	}
}

// Send marshals ev and enqueues it without blocking. Implements room.Sink.
func (c *Conn) Send(ev room.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default: // skip if send buffer is full
	}
}

// Read blocks until it receives a text/binary frame.
// Returns false if the connection is closed.
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop sends outbound frames + periodic pings.
// Exits when ctx is cancelled.
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			_ = c.ws.Write(ctx, websocket.MessageText, b)
		case <-t.C:
			_ = c.ws.Ping(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the WS connection normally
func (c *Conn) Close() error { return c.ws.Close(websocket.StatusNormalClosure, "bye") }
