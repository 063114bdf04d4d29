package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

var errBadFrame = errors.New("viewer: bad frame")

// readJSON reads one text frame into v. Decode failures wrap errBadFrame so
// the caller can skip them; anything else means the socket is gone.
func readJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	typ, data, err := ws.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return fmt.Errorf("%w: binary frame", errBadFrame)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return nil
}

// Dial connects to a hub as a viewer. It is used by the terminal client.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("viewer: dial: %w", err)
	}
	ws.SetReadLimit(1 << 20)
	return &Client{ws: ws}, nil
}

// Client is the viewer side of the protocol.
type Client struct {
	ws *websocket.Conn
}

// Next blocks until the next server event.
func (c *Client) Next(ctx context.Context) (Event, error) {
	for {
		var ev Event
		err := readJSON(ctx, c.ws, &ev)
		if errors.Is(err, errBadFrame) {
			continue
		}
		return ev, err
	}
}

// Send writes a client event.
func (c *Client) Send(ctx context.Context, ev ClientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
