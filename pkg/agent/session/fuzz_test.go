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

package session_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/session"
)

// FuzzEncryptDecryptRoundTrip checks that any payload survives the
// outbound-encrypt/inbound-decrypt pair byte for byte.
func FuzzEncryptDecryptRoundTrip(f *testing.F) {
	f.Add([]byte("hello"))
	f.Add([]byte{})
	f.Add([]byte{0x00, 0xff, 0x00, 0xff})

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		f.Fatal(err)
	}
	salt := []byte("fuzz-salt")

	initiator, err := session.NewSecureSession("fuzz", secret, salt, true, session.Config{})
	if err != nil {
		f.Fatal(err)
	}
	responder, err := session.NewSecureSession("fuzz", secret, salt, false, session.Config{})
	if err != nil {
		f.Fatal(err)
	}
	f.Cleanup(func() {
		_ = initiator.Close()
		_ = responder.Close()
	})

	f.Fuzz(func(t *testing.T, payload []byte) {
		ct, err := initiator.EncryptOutbound(payload)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		pt, err := responder.DecryptInbound(ct)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(payload, pt) {
			t.Fatalf("round trip mismatch: sent %x got %x", payload, pt)
		}
	})
}

// FuzzDecryptInboundRejectsGarbage checks that arbitrary input never
// panics the decrypter and never authenticates.
func FuzzDecryptInboundRejectsGarbage(f *testing.F) {
	f.Add([]byte("not a frame"))
	f.Add(make([]byte, 11))
	f.Add(make([]byte, 12))
	f.Add(make([]byte, 64))

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		f.Fatal(err)
	}
	sess, err := session.NewSecureSession("fuzz", secret, nil, false, session.Config{})
	if err != nil {
		f.Fatal(err)
	}
	f.Cleanup(func() { _ = sess.Close() })

	f.Fuzz(func(t *testing.T, data []byte) {
		if _, err := sess.DecryptInbound(data); err == nil {
			t.Fatalf("garbage input of %d bytes unexpectedly authenticated", len(data))
		}
	})
}
