// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
)

// Carrier is a raw, full-duplex binary-frame transport over a single
// WebSocket connection: it just moves opaque frames in both directions,
// and framing and correlation are the caller's problem. It implements
// frame.Source.
//
// Heartbeats are asymmetric: only the dialer side runs the periodic ping
// loop. The accepting side only ever answers pings.
type Carrier struct {
	conn   *websocket.Conn
	isDial bool

	writeMu sync.Mutex

	heartbeatInterval time.Duration
	missedWindow      time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// DefaultHeartbeatInterval is how often a dialer-side Carrier pings its peer.
const DefaultHeartbeatInterval = 5 * time.Second

// DefaultMissedHeartbeatWindow is how far each pong a dialer-side Carrier
// receives pushes out the connection's read deadline. Once a window passes
// with no pong, the pending read fails and Recv returns an error; the
// Carrier does not close itself, and no deadline is set before the first
// pong arrives.
const DefaultMissedHeartbeatWindow = 15 * time.Second

// Dial opens a new Carrier as the dialing (client) side of the connection.
func Dial(ctx context.Context, url string) (*Carrier, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, logger.NewSageError(logger.ErrCodeNetworkError,
				fmt.Sprintf("carrier: dial failed (HTTP %d)", resp.StatusCode), err)
		}
		return nil, logger.NewSageError(logger.ErrCodeNetworkError, "carrier: dial failed", err)
	}
	c := newCarrier(conn, true)
	c.startHeartbeat()
	return c, nil
}

// Accept wraps an already-upgraded server-side connection as a Carrier.
// It never starts a heartbeat loop; it only answers pings from the peer,
// which gorilla/websocket already does by default via its ping handler.
func Accept(conn *websocket.Conn) *Carrier {
	return newCarrier(conn, false)
}

func newCarrier(conn *websocket.Conn, isDial bool) *Carrier {
	c := &Carrier{
		conn:              conn,
		isDial:            isDial,
		heartbeatInterval: DefaultHeartbeatInterval,
		missedWindow:      DefaultMissedHeartbeatWindow,
		closed:            make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.missedWindow))
	})
	return c
}

// Send writes a single binary frame to the peer.
func (c *Carrier) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return fmt.Errorf("carrier: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("carrier: write: %w", err)
	}
	return nil
}

// Recv blocks until the next binary frame arrives, or ctx is done, or the
// connection is closed. It satisfies frame.Source.
func (c *Carrier) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		_, data, err := c.conn.ReadMessage()
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("carrier: closed")
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("carrier: read: %w", r.err)
		}
		return r.data, nil
	}
}

// startHeartbeat runs the dialer-only ping loop. It stops when the carrier
// is closed.
func (c *Carrier) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.closed:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.SetWriteDeadline(time.Now().Add(c.heartbeatInterval))
				if err == nil {
					err = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
				c.writeMu.Unlock()
				if err != nil {
					logger.Warn("carrier heartbeat ping failed", logger.Error(err))
					_ = c.Close()
					return
				}
			}
		}
	}()
}

// Close tears down the underlying connection. Safe to call more than once.
func (c *Carrier) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// IsDialer reports whether this carrier is the heartbeat-originating side.
func (c *Carrier) IsDialer() bool { return c.isDial }
