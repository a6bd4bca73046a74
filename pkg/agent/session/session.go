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

// Package session implements the encrypted channel two negotiating agents
// exchange frames over: the short-term key handshake that establishes a
// per-session symmetric key record, the ChaCha20-Poly1305 session that
// encrypts every frame with direction-separated keys, and the Collaborator
// wrapper the layers above treat as an opaque send/recv/close surface.
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
)

// directionalKeyInfo domain-separates the session key schedule from any
// other HKDF use of the same shared secret.
const directionalKeyInfo = "sage-shortterm-keys-v1"

// SecureSession encrypts and decrypts frames for one established session
// using direction-separated ChaCha20-Poly1305 keys: the handshake
// initiator sends on the i2r key and receives on r2i, the responder the
// reverse, so a reflected frame never authenticates.
type SecureSession struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastUsedAt   time.Time
	messageCount int
	config       Config
	closed       bool
	expired      bool

	// Key layout: [i2rEnc:32][r2iEnc:32], sliced into outKey/inKey
	// according to role. Zeroed on Close.
	keyMaterial []byte
	outKey      []byte
	inKey       []byte
	aeadOut     cipher.AEAD
	aeadIn      cipher.AEAD
}

// NewSecureSession derives direction-separated keys from the handshake's
// shared secret and salt and returns a ready session. initiator must be
// true on exactly the side that sent sourceHello; both sides must supply
// the same salt (the initiator mints it, the responder receives it).
func NewSecureSession(sid string, secret, salt []byte, initiator bool, cfg Config) (*SecureSession, error) {
	if sid == "" || len(secret) == 0 {
		return nil, fmt.Errorf("session: id and secret are required")
	}

	keyMaterial := make([]byte, 2*chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, secret, salt, []byte(directionalKeyInfo))
	if _, err := io.ReadFull(reader, keyMaterial); err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("session: derive directional keys: %w", err)
	}

	i2r := keyMaterial[:chacha20poly1305.KeySize]
	r2i := keyMaterial[chacha20poly1305.KeySize:]

	var outKey, inKey []byte
	if initiator {
		outKey, inKey = i2r, r2i
	} else {
		outKey, inKey = r2i, i2r
	}

	return newSessionFromSlices(sid, keyMaterial, outKey, inKey, cfg)
}

// NewSecureSessionFromKeys builds a session directly from an
// already-derived directional key pair, e.g. a ShortTermKey record handed
// over by the handshake.
func NewSecureSessionFromKeys(sid string, sendKey, recvKey []byte, cfg Config) (*SecureSession, error) {
	if sid == "" {
		return nil, fmt.Errorf("session: id is required")
	}
	keyMaterial := make([]byte, 0, len(sendKey)+len(recvKey))
	keyMaterial = append(keyMaterial, sendKey...)
	keyMaterial = append(keyMaterial, recvKey...)
	return newSessionFromSlices(sid, keyMaterial, keyMaterial[:len(sendKey)], keyMaterial[len(sendKey):], cfg)
}

func newSessionFromSlices(sid string, keyMaterial, outKey, inKey []byte, cfg Config) (*SecureSession, error) {
	aeadOut, err := chacha20poly1305.New(outKey)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("session: create outbound AEAD: %w", err)
	}
	aeadIn, err := chacha20poly1305.New(inKey)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("session: create inbound AEAD: %w", err)
	}

	now := time.Now()
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return &SecureSession{
		id:          sid,
		createdAt:   now,
		lastUsedAt:  now,
		config:      cfg,
		keyMaterial: keyMaterial,
		outKey:      outKey,
		inKey:       inKey,
		aeadOut:     aeadOut,
		aeadIn:      aeadIn,
	}, nil
}

// GetID returns the session identifier.
func (s *SecureSession) GetID() string {
	return s.id
}

// GetCreatedAt returns when the session was established.
func (s *SecureSession) GetCreatedAt() time.Time {
	return s.createdAt
}

// GetLastUsedAt returns when a frame last passed through the session.
func (s *SecureSession) GetLastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// GetMessageCount returns how many frames this session has encrypted or
// decrypted.
func (s *SecureSession) GetMessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// GetConfig returns the session policy this session was created with.
func (s *SecureSession) GetConfig() Config {
	return s.config
}

// IsExpired reports whether the session has outlived its policy: absolute
// age, idle time, or message budget.
func (s *SecureSession) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	now := time.Now()
	expired := false
	switch {
	case s.config.MaxAge > 0 && now.After(s.createdAt.Add(s.config.MaxAge)):
		expired = true
	case s.config.IdleTimeout > 0 && now.After(s.lastUsedAt.Add(s.config.IdleTimeout)):
		expired = true
	case s.config.MaxMessages > 0 && s.messageCount >= s.config.MaxMessages:
		expired = true
	}
	if expired && !s.expired {
		s.expired = true
		metrics.SessionsExpired.Inc()
	}
	return expired
}

// UpdateLastUsed refreshes the idle-timeout clock.
func (s *SecureSession) UpdateLastUsed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsedAt = time.Now()
}

func (s *SecureSession) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.messageCount++
	s.mu.Unlock()
}

// EncryptOutbound encrypts plaintext with the outbound AEAD.
// Output: nonce || ciphertext.
func (s *SecureSession) EncryptOutbound(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	aead := s.aeadOut
	s.mu.Unlock()
	if aead == nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, fmt.Errorf("session: closed or uninitialized")
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, fmt.Errorf("session: generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, len(nonce)+len(ct))
	copy(out, nonce)
	copy(out[len(nonce):], ct)

	s.touch()
	metrics.CryptoOperations.WithLabelValues("encrypt", "chacha20poly1305").Inc()
	metrics.SessionMessageSize.WithLabelValues("outbound").Observe(float64(len(plaintext)))
	return out, nil
}

// DecryptInbound decrypts data with the inbound AEAD.
// Input: nonce || ciphertext.
func (s *SecureSession) DecryptInbound(data []byte) ([]byte, error) {
	s.mu.Lock()
	aead := s.aeadIn
	s.mu.Unlock()
	if aead == nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("session: closed or uninitialized")
	}
	if len(data) < chacha20poly1305.NonceSize {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("session: frame too short")
	}
	nonce := data[:chacha20poly1305.NonceSize]
	ct := data[chacha20poly1305.NonceSize:]

	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("session: decryption failed: %w", err)
	}

	s.touch()
	metrics.CryptoOperations.WithLabelValues("decrypt", "chacha20poly1305").Inc()
	metrics.SessionMessageSize.WithLabelValues("inbound").Observe(float64(len(pt)))
	return pt, nil
}

// Close zeroes the key material and marks the session unusable. Safe to
// call more than once.
func (s *SecureSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for i := range s.keyMaterial {
		s.keyMaterial[i] = 0
	}
	s.keyMaterial = nil
	s.outKey = nil
	s.inKey = nil
	s.aeadOut = nil
	s.aeadIn = nil

	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.Inc()
	return nil
}
