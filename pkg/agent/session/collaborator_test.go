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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeCarrier is an in-memory RawCarrier used to connect two peers in
// tests without a real network socket.
type pipeCarrier struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (*pipeCarrier, *pipeCarrier) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	return &pipeCarrier{out: a, in: b}, &pipeCarrier{out: b, in: a}
}

func (p *pipeCarrier) Send(ctx context.Context, payload []byte) error {
	cp := append([]byte(nil), payload...)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeCarrier) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeCarrier) Close() error { return nil }

func TestShortTermKeyHandshakeProducesMatchingKeys(t *testing.T) {
	initCarrier, respCarrier := newPipePair()
	initPeer := PlaintextPeer{Carrier: initCarrier}
	respPeer := PlaintextPeer{Carrier: respCarrier}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		stk *ShortTermKey
		err error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		stk, err := NegotiateShortTermKeyActive(ctx, initPeer, "did:key:zinitiator")
		initCh <- result{stk, err}
	}()
	go func() {
		stk, err := NegotiateShortTermKeyPassive(ctx, respPeer, "did:key:zresponder")
		respCh <- result{stk, err}
	}()

	initRes := <-initCh
	respRes := <-respCh

	require.NoError(t, initRes.err)
	require.NoError(t, respRes.err)

	assert.Equal(t, "did:key:zresponder", initRes.stk.RemoteDID)
	assert.Equal(t, "did:key:zinitiator", respRes.stk.RemoteDID)
	assert.Equal(t, initRes.stk.SecretKeyID, respRes.stk.SecretKeyID)
	assert.Equal(t, initRes.stk.SessionID, respRes.stk.SessionID)
	assert.False(t, initRes.stk.KeyExpires.IsZero())

	// Directional keys must cross-match: initiator's send key is the
	// responder's receive key, and vice versa.
	assert.Equal(t, initRes.stk.SendEncryptionKey, respRes.stk.ReceiveDecryptKey)
	assert.Equal(t, initRes.stk.ReceiveDecryptKey, respRes.stk.SendEncryptionKey)
	assert.Equal(t, CipherSuiteChaCha20Poly1305HKDFSHA256, initRes.stk.CipherSuite)
}

const testSecretKeyID = "stk-test-key-id"

func collaboratorPair(t *testing.T) (a, b *Collaborator, aCarrier, bCarrier *pipeCarrier) {
	t.Helper()
	aCarrier, bCarrier = newPipePair()

	aSess, err := NewSecureSession("sess-1", []byte("0123456789abcdef0123456789abcdef"), []byte("salt"), true, Config{})
	require.NoError(t, err)
	bSess, err := NewSecureSession("sess-1", []byte("0123456789abcdef0123456789abcdef"), []byte("salt"), false, Config{})
	require.NoError(t, err)

	a = NewCollaborator(aCarrier, aSess, testSecretKeyID)
	b = NewCollaborator(bCarrier, bSess, testSecretKeyID)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b, aCarrier, bCarrier
}

func TestCollaboratorRoundTripsEncryptedFrames(t *testing.T) {
	a, b, _, _ := collaboratorPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("hello from a")))
	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello from a", string(got))

	require.NoError(t, b.Send(ctx, []byte("hello from b")))
	got, err = a.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello from b", string(got))
}

func TestCollaboratorDropsReplayedAndGarbageFrames(t *testing.T) {
	a, b, aCarrier, _ := collaboratorPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, []byte("one")))

	// Capture the ciphertext that just crossed the pipe and deliver it
	// twice more, with a garbage frame in between.
	ct := <-aCarrier.out
	aCarrier.out <- ct
	aCarrier.out <- []byte("garbage frame")
	aCarrier.out <- ct

	require.NoError(t, a.Send(ctx, []byte("two")))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	// The replay and the garbage are skipped; the next delivered frame is
	// the genuinely new one.
	got, err = b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestCollaboratorDropsFrameWithMismatchedSecretKeyID(t *testing.T) {
	a, b, aCarrier, _ := collaboratorPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A frame stamped with a different key id must be rejected before
	// decryption even though its ciphertext is genuine: swap the id prefix
	// on a legitimately encrypted frame.
	require.NoError(t, a.Send(ctx, []byte("under stale key")))
	framed := <-aCarrier.out
	staleID := "stk-someone-else"
	forged := append([]byte{byte(len(staleID))}, staleID...)
	forged = append(forged, framed[1+int(framed[0]):]...)
	aCarrier.out <- forged

	require.NoError(t, a.Send(ctx, []byte("under current key")))

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "under current key", string(got))
}
