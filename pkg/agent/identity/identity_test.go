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

package identity

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesValidDIDKey(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	assert.True(t, len(id.DID) > len("did:key:z"))
	assert.Regexp(t, `^did:key:z`, id.DID)
	assert.Equal(t, id.DID, id.DIDDocument.ID)
	require.Len(t, id.DIDDocument.VerificationMethod, 1)
	assert.Equal(t, "Ed25519VerificationKey2020", id.DIDDocument.VerificationMethod[0].Type)
}

func TestSignatureVerifiesWithPublicKey(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := []byte("protocol-negotiation-handshake")
	sig := id.Sign(msg)

	assert.True(t, len(sig) > 0)
	assert.True(t, ed25519.Verify(id.PublicKey(), msg, sig))
}

func TestSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	original, err := Generate()
	require.NoError(t, err)
	require.NoError(t, original.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, original.DID, loaded.DID)
	assert.Equal(t, original.PrivateKeyPEM, loaded.PrivateKeyPEM)
	assert.Equal(t, original.PublicKey(), loaded.PublicKey())
}

func TestLoadOrGenerateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	first, err := LoadOrGenerate(path)
	require.NoError(t, err)

	second, err := LoadOrGenerate(path)
	require.NoError(t, err)

	assert.Equal(t, first.DID, second.DID)
}
