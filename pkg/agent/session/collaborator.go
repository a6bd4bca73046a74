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
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
)

// RawCarrier is the minimal transport a Collaborator wraps: send/receive
// opaque byte frames, full duplex, one reader at a time. Both the
// WebSocket Carrier and an in-memory test double satisfy this.
type RawCarrier interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// replayTTL is how long a received frame nonce is remembered. A frame
// replayed inside the window is dropped; one replayed after it would have
// to pass AEAD authentication against a session that has long since
// rotated or expired.
const replayTTL = 10 * time.Minute

// Collaborator is the external, already-encrypted channel that everything
// above the session layer (the meta-protocol negotiator, the application
// protocol containers) treats as a trusted black box: send a frame, it
// gets encrypted and delivered; receive a frame, it already came back
// key-checked, decrypted, authenticated, and replay-checked.
//
// Every post-handshake frame is prefixed with the session's secretKeyId
// (one length byte, then the id bytes), so a peer still sending under a
// stale or foreign key is caught by the id check on receive, before and
// distinctly from AEAD authentication.
type Collaborator struct {
	carrier RawCarrier
	sess    *SecureSession
	keyID   string
	nonces  *NonceCache
}

// NewCollaborator wraps an established SecureSession and its underlying
// raw carrier. secretKeyID is the handshake's agreed key identity; it is
// stamped on every outbound frame and required on every inbound one.
func NewCollaborator(carrier RawCarrier, sess *SecureSession, secretKeyID string) *Collaborator {
	return &Collaborator{
		carrier: carrier,
		sess:    sess,
		keyID:   secretKeyID,
		nonces:  NewNonceCache(replayTTL),
	}
}

// Send encrypts payload and writes it to the carrier, prefixed with the
// session's secretKeyId.
func (c *Collaborator) Send(ctx context.Context, payload []byte) error {
	if len(c.keyID) == 0 || len(c.keyID) > 255 {
		return fmt.Errorf("collaborator: secretKeyId length %d out of range", len(c.keyID))
	}
	ct, err := c.sess.EncryptOutbound(payload)
	if err != nil {
		return fmt.Errorf("collaborator: encrypt: %w", err)
	}

	framed := make([]byte, 0, 1+len(c.keyID)+len(ct))
	framed = append(framed, byte(len(c.keyID)))
	framed = append(framed, c.keyID...)
	framed = append(framed, ct...)

	if err := c.carrier.Send(ctx, framed); err != nil {
		return fmt.Errorf("collaborator: send: %w", err)
	}
	return nil
}

// Recv reads, key-checks, and decrypts the next frame from the carrier.
// It satisfies frame.Source. A frame carrying the wrong secretKeyId, one
// that fails authentication, and one that repeats a previously seen nonce
// are three distinct per-frame failures; each is dropped and logged, and
// only carrier-level failures surface as errors, since a bad frame
// invalidates itself, not the session.
func (c *Collaborator) Recv(ctx context.Context) ([]byte, error) {
	for {
		framed, err := c.carrier.Recv(ctx)
		if err != nil {
			return nil, err
		}

		if len(framed) < 1 || len(framed) < 1+int(framed[0]) {
			logger.Warn("dropping truncated frame", logger.Int("length", len(framed)))
			continue
		}
		keyID := string(framed[1 : 1+int(framed[0])])
		ct := framed[1+int(framed[0]):]

		if keyID != c.keyID {
			metrics.CryptoErrors.WithLabelValues("keyid").Inc()
			logger.Warn("dropping frame with mismatched secretKeyId",
				logger.String("expected", c.keyID), logger.String("got", keyID))
			continue
		}

		pt, err := c.sess.DecryptInbound(ct)
		if err != nil {
			logger.Warn("dropping frame that failed decryption", logger.Error(err))
			continue
		}

		nonce := base64.RawStdEncoding.EncodeToString(ct[:chacha20poly1305.NonceSize])
		if c.nonces.Seen(c.sess.GetID(), nonce) {
			metrics.ReplayAttacksDetected.Inc()
			logger.Warn("dropping replayed frame", logger.String("sessionId", c.sess.GetID()))
			continue
		}

		return pt, nil
	}
}

// SendJSON is a convenience used before a SecureSession exists (i.e. during
// the short-term key handshake), sending unencrypted structured data
// straight over the carrier.
func (c *Collaborator) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("collaborator: marshal: %w", err)
	}
	return c.carrier.Send(ctx, data)
}

// RecvJSON is the receive-side counterpart of SendJSON.
func (c *Collaborator) RecvJSON(ctx context.Context, v any) error {
	data, err := c.carrier.Recv(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("collaborator: unmarshal: %w", err)
	}
	return nil
}

// Close tears down the session, the replay cache, and the underlying
// carrier.
func (c *Collaborator) Close() error {
	c.nonces.DeleteKey(c.sess.GetID())
	c.nonces.Close()
	sessErr := c.sess.Close()
	carrierErr := c.carrier.Close()
	if sessErr != nil {
		return sessErr
	}
	return carrierErr
}

// PlaintextPeer adapts a RawCarrier into a Peer for use during the
// short-term key handshake, before any SecureSession exists to encrypt
// with. Only hello/finished control messages are ever sent over it.
type PlaintextPeer struct {
	Carrier RawCarrier
}

// SendJSON marshals v and writes it unencrypted to the carrier.
func (p PlaintextPeer) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("plaintextpeer: marshal: %w", err)
	}
	return p.Carrier.Send(ctx, data)
}

// RecvJSON reads the next carrier frame and unmarshals it into v.
func (p PlaintextPeer) RecvJSON(ctx context.Context, v any) error {
	data, err := p.Carrier.Recv(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
