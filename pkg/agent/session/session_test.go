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
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

// sessionPair derives both ends of one session from the same secret and
// salt, the way the short-term key handshake does.
func sessionPair(t *testing.T, cfg Config) (initiator, responder *SecureSession) {
	t.Helper()
	secret := testSecret(t)
	salt := []byte("test-salt")

	initiator, err := NewSecureSession("session-1", secret, salt, true, cfg)
	require.NoError(t, err)
	responder, err = NewSecureSession("session-1", secret, salt, false, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = initiator.Close()
		_ = responder.Close()
	})
	return initiator, responder
}

func TestDirectionalEncryptDecryptRoundTrip(t *testing.T) {
	initiator, responder := sessionPair(t, Config{})

	plaintext := []byte("negotiation frame payload")

	ct, err := initiator.EncryptOutbound(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	pt, err := responder.DecryptInbound(ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)

	// And the reverse direction uses the other key.
	ct2, err := responder.EncryptOutbound([]byte("reply"))
	require.NoError(t, err)
	pt2, err := initiator.DecryptInbound(ct2)
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), pt2)
}

func TestReflectedFrameDoesNotAuthenticate(t *testing.T) {
	initiator, _ := sessionPair(t, Config{})

	ct, err := initiator.EncryptOutbound([]byte("hello"))
	require.NoError(t, err)

	// A frame bounced straight back at its sender must not decrypt: the
	// inbound key differs from the outbound one.
	_, err = initiator.DecryptInbound(ct)
	assert.Error(t, err)
}

func TestTamperedCiphertextFailsDecryption(t *testing.T) {
	initiator, responder := sessionPair(t, Config{})

	ct, err := initiator.EncryptOutbound([]byte("hello"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = responder.DecryptInbound(ct)
	assert.Error(t, err)
}

func TestNoncesNeverRepeatAcrossFrames(t *testing.T) {
	initiator, _ := sessionPair(t, Config{})

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		ct, err := initiator.EncryptOutbound([]byte("x"))
		require.NoError(t, err)
		nonce := string(ct[:12])
		assert.False(t, seen[nonce], "nonce repeated at frame %d", i)
		seen[nonce] = true
	}
}

func TestDifferentSaltsYieldDifferentKeys(t *testing.T) {
	secret := testSecret(t)

	a, err := NewSecureSession("sid", secret, []byte("salt-a"), true, Config{})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSecureSession("sid", secret, []byte("salt-b"), false, Config{})
	require.NoError(t, err)
	defer b.Close()

	ct, err := a.EncryptOutbound([]byte("hello"))
	require.NoError(t, err)
	_, err = b.DecryptInbound(ct)
	assert.Error(t, err)
}

func TestSessionExpiryPolicies(t *testing.T) {
	t.Run("MaxAge", func(t *testing.T) {
		s, err := NewSecureSession("sid", testSecret(t), nil, true, Config{MaxAge: 10 * time.Millisecond})
		require.NoError(t, err)
		defer s.Close()

		assert.False(t, s.IsExpired())
		time.Sleep(20 * time.Millisecond)
		assert.True(t, s.IsExpired())
	})

	t.Run("MaxMessages", func(t *testing.T) {
		s, err := NewSecureSession("sid", testSecret(t), nil, true, Config{MaxMessages: 2})
		require.NoError(t, err)
		defer s.Close()

		for i := 0; i < 2; i++ {
			_, err := s.EncryptOutbound([]byte("x"))
			require.NoError(t, err)
		}
		assert.True(t, s.IsExpired())
	})

	t.Run("ClosedIsExpired", func(t *testing.T) {
		s, err := NewSecureSession("sid", testSecret(t), nil, true, Config{})
		require.NoError(t, err)
		require.NoError(t, s.Close())
		assert.True(t, s.IsExpired())
	})
}

func TestCloseZeroesKeysAndRejectsFurtherUse(t *testing.T) {
	s, err := NewSecureSession("sid", testSecret(t), nil, true, Config{})
	require.NoError(t, err)

	keyCopy := append([]byte(nil), s.outKey...)
	require.NoError(t, s.Close())

	assert.Nil(t, s.outKey)
	assert.Nil(t, s.inKey)
	assert.False(t, bytes.Equal(keyCopy, make([]byte, len(keyCopy))), "sanity: key was not all zero before close")

	_, err = s.EncryptOutbound([]byte("x"))
	assert.Error(t, err)
	_, err = s.DecryptInbound(make([]byte, 32))
	assert.Error(t, err)

	// Close is idempotent.
	require.NoError(t, s.Close())
}

func TestNewSecureSessionFromKeysMatchesDerivedSession(t *testing.T) {
	secret := testSecret(t)
	salt := []byte("salt")

	derived, err := NewSecureSession("sid", secret, salt, true, Config{})
	require.NoError(t, err)
	defer derived.Close()

	fromKeys, err := NewSecureSessionFromKeys("sid",
		append([]byte(nil), derived.outKey...),
		append([]byte(nil), derived.inKey...),
		Config{})
	require.NoError(t, err)
	defer fromKeys.Close()

	responder, err := NewSecureSession("sid", secret, salt, false, Config{})
	require.NoError(t, err)
	defer responder.Close()

	ct, err := fromKeys.EncryptOutbound([]byte("via key record"))
	require.NoError(t, err)
	pt, err := responder.DecryptInbound(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("via key record"), pt)
}

func TestMessageCountAndLastUsedAdvance(t *testing.T) {
	s, err := NewSecureSession("sid", testSecret(t), nil, true, Config{})
	require.NoError(t, err)
	defer s.Close()

	before := s.GetLastUsedAt()
	time.Sleep(5 * time.Millisecond)
	_, err = s.EncryptOutbound([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, s.GetMessageCount())
	assert.True(t, s.GetLastUsedAt().After(before))
}
