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
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
)

// ShortTermKey is the symmetric key record produced by the short-term key
// handshake. From the perspective of the meta-protocol negotiator and
// everything above it, this is an opaque collaborator result: it is
// treated as already-established by the time a session orchestrator starts
// negotiating an application protocol.
type ShortTermKey struct {
	RemoteDID         string
	SessionID         string
	SendEncryptionKey []byte
	ReceiveDecryptKey []byte
	SecretKeyID       string
	KeyExpires        time.Time
	CipherSuite       string
}

// CipherSuiteChaCha20Poly1305HKDFSHA256 names the AEAD/KDF pair this
// implementation's session layer actually uses.
const CipherSuiteChaCha20Poly1305HKDFSHA256 = "chacha20poly1305-hkdf-sha256"

// defaultKeyLifetime bounds how long a short-term key record is valid for
// before the session must renegotiate.
const defaultKeyLifetime = 1 * time.Hour

// helloMessage and finishedMessage make up the sourceHello/
// destinationHello/finished exchange: the initiator sends a hello carrying
// its ephemeral public key, DID, a fresh HKDF salt, and the proposed
// session metadata; the responder answers with its own hello; and both
// sides close with a finished message carrying the secretKeyId they
// derived (so a transcript mismatch is caught immediately rather than on
// first use).
type helloMessage struct {
	Type               string    `json:"type"`
	DID                string    `json:"did"`
	EphemeralPublicKey string    `json:"ephemeralPublicKey"` // base64 raw X25519 public key
	Salt               string    `json:"salt,omitempty"`     // base64url, sourceHello only
	Metadata           *Metadata `json:"metadata,omitempty"` // sourceHello only
}

type finishedMessage struct {
	Type        string `json:"type"`
	SecretKeyID string `json:"secretKeyId"`
}

// Peer is the minimal duplex JSON channel the short-term key handshake
// runs over before any session keys exist.
type Peer interface {
	SendJSON(ctx context.Context, v any) error
	RecvJSON(ctx context.Context, v any) error
}

// NegotiateShortTermKeyActive runs the initiator side of the handshake:
// send sourceHello, wait for destinationHello, derive keys, send finished.
func NegotiateShortTermKeyActive(ctx context.Context, peer Peer, selfDID string) (*ShortTermKey, error) {
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	start := time.Now()

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: generate ephemeral key: %w", err))
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: generate salt: %w", err))
	}
	meta := NewMetadataBuilder().WithExpiresAfter(defaultKeyLifetime).Build()

	if err := peer.SendJSON(ctx, helloMessage{
		Type:               "sourceHello",
		DID:                selfDID,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Salt:               salt,
		Metadata:           meta,
	}); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: send sourceHello: %w", err))
	}

	var peerHello helloMessage
	if err := peer.RecvJSON(ctx, &peerHello); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: recv destinationHello: %w", err))
	}
	if peerHello.Type != "destinationHello" {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: expected destinationHello, got %q", peerHello.Type))
	}

	stk, err := deriveShortTermKey(priv, peerHello, *meta, salt, true)
	if err != nil {
		return nil, failHandshake("invalid", err)
	}

	if err := peer.SendJSON(ctx, finishedMessage{Type: "finished", SecretKeyID: stk.SecretKeyID}); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: send finished: %w", err))
	}
	var peerFinished finishedMessage
	if err := peer.RecvJSON(ctx, &peerFinished); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: recv finished: %w", err))
	}
	if peerFinished.SecretKeyID != stk.SecretKeyID {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: secretKeyId mismatch: local=%s remote=%s", stk.SecretKeyID, peerFinished.SecretKeyID))
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("initiator").Observe(time.Since(start).Seconds())
	return stk, nil
}

// NegotiateShortTermKeyPassive runs the responder side of the handshake.
func NegotiateShortTermKeyPassive(ctx context.Context, peer Peer, selfDID string) (*ShortTermKey, error) {
	metrics.HandshakesInitiated.WithLabelValues("responder").Inc()
	start := time.Now()

	var initiatorHello helloMessage
	if err := peer.RecvJSON(ctx, &initiatorHello); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: recv sourceHello: %w", err))
	}
	if initiatorHello.Type != "sourceHello" {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: expected sourceHello, got %q", initiatorHello.Type))
	}
	if initiatorHello.Salt == "" || initiatorHello.Metadata == nil {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: sourceHello missing salt or metadata"))
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: generate ephemeral key: %w", err))
	}

	if err := peer.SendJSON(ctx, helloMessage{
		Type:               "destinationHello",
		DID:                selfDID,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes()),
	}); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: send destinationHello: %w", err))
	}

	stk, err := deriveShortTermKey(priv, initiatorHello, *initiatorHello.Metadata, initiatorHello.Salt, false)
	if err != nil {
		return nil, failHandshake("invalid", err)
	}

	var initiatorFinished finishedMessage
	if err := peer.RecvJSON(ctx, &initiatorFinished); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: recv finished: %w", err))
	}
	if initiatorFinished.SecretKeyID != stk.SecretKeyID {
		return nil, failHandshake("invalid", fmt.Errorf("shortkey: secretKeyId mismatch: local=%s remote=%s", stk.SecretKeyID, initiatorFinished.SecretKeyID))
	}
	if err := peer.SendJSON(ctx, finishedMessage{Type: "finished", SecretKeyID: stk.SecretKeyID}); err != nil {
		return nil, failHandshake("network", fmt.Errorf("shortkey: send finished: %w", err))
	}

	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("responder").Observe(time.Since(start).Seconds())
	return stk, nil
}

func failHandshake(errorType string, err error) error {
	metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
	metrics.HandshakesFailed.WithLabelValues(errorType).Inc()
	return err
}

// deriveShortTermKey turns the completed hello exchange into a key record.
// The session identifier and expiry come from the initiator's metadata, so
// both sides agree on them; the salt binds the key schedule to this one
// handshake.
func deriveShortTermKey(priv *ecdh.PrivateKey, peerHello helloMessage, meta Metadata, salt string, initiator bool) (*ShortTermKey, error) {
	peerPubBytes, err := base64.StdEncoding.DecodeString(peerHello.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("shortkey: decode peer ephemeral key: %w", err)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("shortkey: parse peer ephemeral key: %w", err)
	}

	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("shortkey: ECDH: %w", err)
	}

	saltBytes, err := base64.RawURLEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("shortkey: decode salt: %w", err)
	}

	expires := time.Now().Add(defaultKeyLifetime)
	if meta.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, meta.ExpiresAt); err == nil {
			expires = t
		}
	}

	sess, err := NewSecureSession(meta.ID, shared, saltBytes, initiator, Config{})
	if err != nil {
		return nil, fmt.Errorf("shortkey: derive session keys: %w", err)
	}
	defer sess.Close()

	// Copy the key bytes out: sess.outKey/inKey alias sess's keyMaterial
	// buffer, which the deferred Close() above zeroes.
	sendKey := append([]byte(nil), sess.outKey...)
	recvKey := append([]byte(nil), sess.inKey...)

	selfPub := priv.PublicKey().Bytes()
	keyID := base64.RawURLEncoding.EncodeToString(append(append([]byte{}, selfPub...), peerPubBytes...))[:22]
	if !initiator {
		// Both sides must name the same key: the id is always
		// initiator-pub || responder-pub.
		keyID = base64.RawURLEncoding.EncodeToString(append(append([]byte{}, peerPubBytes...), selfPub...))[:22]
	}

	return &ShortTermKey{
		RemoteDID:         peerHello.DID,
		SessionID:         meta.ID,
		SendEncryptionKey: sendKey,
		ReceiveDecryptKey: recvKey,
		SecretKeyID:       keyID,
		KeyExpires:        expires,
		CipherSuite:       CipherSuiteChaCha20Poly1305HKDFSHA256,
	}, nil
}

// NewSecureSessionFromShortTermKey builds the SecureSession the rest of
// the session (meta-protocol negotiation, application traffic) actually
// sends and receives through, directly from a completed handshake's
// directional keys. This skips re-deriving keys from the raw ECDH secret
// a second time: the handshake already did that once, in
// deriveShortTermKey above.
func NewSecureSessionFromShortTermKey(stk *ShortTermKey) (*SecureSession, error) {
	if stk == nil {
		return nil, fmt.Errorf("shortkey: nil short-term key")
	}
	if len(stk.SendEncryptionKey) != chacha20poly1305.KeySize || len(stk.ReceiveDecryptKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("shortkey: malformed key record")
	}
	return NewSecureSessionFromKeys(stk.SessionID, stk.SendEncryptionKey, stk.ReceiveDecryptKey, Config{MaxAge: time.Until(stk.KeyExpires)})
}
