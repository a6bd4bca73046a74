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
	"net/http"

	"github.com/gorilla/websocket"
)

// NewSessionFunc is invoked once per accepted connection, wrapped as a raw
// Carrier. It is the counterpart of Dial on the listening side: the
// orchestrator's AcceptWithNegotiation path is installed here.
type NewSessionFunc func(c *Carrier)

// Listener upgrades incoming HTTP connections to WebSocket and hands each
// one to a NewSessionFunc as a Carrier. Any number of inbound sessions may
// be live at once; each gets its own Carrier.
type Listener struct {
	upgrader  websocket.Upgrader
	onSession NewSessionFunc
}

// NewListener creates a Listener that calls onSession for every accepted
// connection.
func NewListener(onSession NewSessionFunc) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		onSession: onSession,
	}
}

// Handler returns an http.Handler suitable for mounting on any path; each
// successful upgrade spawns its own Carrier and hands it to onSession.
func (l *Listener) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		l.onSession(Accept(conn))
	})
}
