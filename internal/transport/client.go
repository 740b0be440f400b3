// Package transport implements the realtime websocket connection between a
// voice session and the backend (or the edge bridge standing in for it).
//
// Frames are JSON objects as defined by [wire]. The client owns a receive
// loop that decodes inbound messages and delivers them on a channel; malformed
// frames are logged and dropped without affecting the connection.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxdesk/voxdesk/pkg/wire"
)

// frameBuffer is the capacity of the inbound frame channel. Audio deltas
// arrive in bursts; the buffer absorbs them while the session dispatches.
const frameBuffer = 64

// Client is a duplex realtime connection. Obtain one via [Dial]; it is ready
// to send immediately and delivers inbound frames on [Client.Frames] until
// the connection ends, at which point the channel is closed and
// [Client.Err] reports the terminal error (nil for a clean close).
type Client struct {
	conn   *websocket.Conn
	frames chan wire.Frame

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	errVal error
	closed bool

	closeOnce sync.Once
}

// Dial opens a realtime connection to url. The context bounds the handshake
// only; the connection itself lives until [Client.Close] or a transport
// failure.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		frames: make(chan wire.Frame, frameBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	go c.receiveLoop()
	return c, nil
}

// Send encodes and writes one frame.
func (c *Client) Send(f wire.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: send on closed connection")
	}
	c.mu.Unlock()

	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: send %s frame: %w", f.Type, err)
	}
	return nil
}

// Frames returns the inbound frame channel. It is closed when the receive
// loop exits; check [Client.Err] afterwards to distinguish clean close from
// failure.
func (c *Client) Frames() <-chan wire.Frame { return c.frames }

// Err returns the error that terminated the connection, or nil if it closed
// cleanly (normal closure or local Close).
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close shuts the connection down with a normal-closure status. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "session ended")
}

// receiveLoop reads until the connection ends. It owns the frames channel
// and closes it on exit.
func (c *Client) receiveLoop() {
	defer c.closeOnce.Do(func() { close(c.frames) })

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return // local close
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			c.setErr(err)
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			slog.Debug("transport: dropping malformed frame", "err", err)
			continue
		}

		select {
		case c.frames <- f:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}
