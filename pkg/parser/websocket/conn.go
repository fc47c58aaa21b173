// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// Conn presents a WebSocket connection as a byte stream.
type Conn struct {
	*websocket.Conn
	r         io.Reader
	rio       sync.Mutex
	wio       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Conn)(nil)

// NewConn wraps ws as a net.Conn.
func NewConn(ws *websocket.Conn) net.Conn {
	return &Conn{Conn: ws}
}

// SetDeadline sets both the read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// Write sends p as a single binary frame.
func (c *Conn) Write(p []byte) (int, error) {
	c.wio.Lock()
	defer c.wio.Unlock()

	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read reads from the current frame and moves to the next frame when the
// current one is exhausted. A normal close frame reads as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.rio.Lock()
	defer c.rio.Unlock()

	for {
		if c.r == nil {
			_, r, err := c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close sends a close frame and closes the underlying connection. It is safe
// to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
