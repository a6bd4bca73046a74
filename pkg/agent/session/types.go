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

package session

import (
	"time"
)

// GeneralPrefix prefixes every generated session identifier.
const GeneralPrefix = "session"

// Session is the surface an established secure channel exposes to the
// layers above it: identity and lifecycle bookkeeping plus directional
// frame encryption.
type Session interface {
	// Identification
	GetID() string
	GetCreatedAt() time.Time
	GetLastUsedAt() time.Time

	// Lifecycle
	IsExpired() bool
	UpdateLastUsed()
	Close() error

	// Directional frame encryption
	EncryptOutbound(plaintext []byte) ([]byte, error)
	DecryptInbound(data []byte) ([]byte, error)

	// Statistics
	GetMessageCount() int
	GetConfig() Config
}

// Config defines session policies and limits.
type Config struct {
	MaxAge      time.Duration `json:"maxAge"`      // absolute expiration (e.g. the short-term key lifetime)
	IdleTimeout time.Duration `json:"idleTimeout"` // idle expiration (e.g. 10 minutes without a frame)
	MaxMessages int           `json:"maxMessages"` // frame budget before forced renegotiation
}
