package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/framecast/pkg/anim"
)

// ErrSendBufferFull is returned when a viewer's outbound queue is full. The
// event is dropped; the viewer stays connected.
var ErrSendBufferFull = errors.New("viewer: send buffer full")

type outbound struct {
	data []byte

	// closeAfter closes the socket once data is written.
	closeAfter bool
	status     websocket.StatusCode
	reason     string
}

// conn is one connected viewer. Transport calls enqueue onto send and
// never block; writeLoop owns the socket's write side.
type conn struct {
	recipient anim.Recipient
	ws        *websocket.Conn
	send      chan outbound
	joinedAt  time.Time
	seq       uint64

	mu         sync.Mutex
	world      string
	clientCaps map[string]bool
	closing    bool
	replaced   bool
}

func (c *conn) World() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.world
}

func (c *conn) setWorld(w string) {
	c.mu.Lock()
	c.world = w
	c.mu.Unlock()
}

func (c *conn) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closing
}

func (c *conn) hasClientCap(capability string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientCaps[capability]
}

// enqueue queues ev. It returns [anim.ErrDisconnected] once the connection
// is closing and [ErrSendBufferFull] when the queue is full.
func (c *conn) enqueue(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return anim.ErrDisconnected
	}
	select {
	case c.send <- outbound{data: data}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// shutdown marks the connection closing and queues a final event followed
// by a close. If the queue is full the socket is dropped without a close
// handshake. shutdown never blocks.
func (c *conn) shutdown(final *Event, status websocket.StatusCode, reason string) {
	var data []byte
	if final != nil {
		data, _ = json.Marshal(final)
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	select {
	case c.send <- outbound{data: data, closeAfter: true, status: status, reason: reason}:
		c.mu.Unlock()
	default:
		// Close would wait on the handshake behind the stuck writer.
		c.mu.Unlock()
		_ = c.ws.CloseNow()
	}
}

func (c *conn) writeLoop(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			if len(msg.data) > 0 {
				wctx, cancel := context.WithTimeout(ctx, timeout)
				err := c.ws.Write(wctx, websocket.MessageText, msg.data)
				cancel()
				if err != nil {
					slog.Debug("viewer: write failed", "viewer", c.recipient.ID, "err", err)
					_ = c.ws.CloseNow()
					return
				}
			}
			if msg.closeAfter {
				_ = c.ws.Close(msg.status, msg.reason)
				return
			}
		}
	}
}
