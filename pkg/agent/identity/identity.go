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

// Package identity manages the long-lived DID identity of a negotiating
// agent: an Ed25519 key pair, a did:key identifier derived from the public
// key, and a minimal DID document. The identity is generated once and
// persisted to disk; it does not change for the lifetime of the process.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mr-tron/base58"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
)

// didKeyMulticodecEd25519 is the multicodec varint prefix (0xed, 0x01) for
// an Ed25519 public key, as used by the did:key method.
var didKeyMulticodecEd25519 = []byte{0xed, 0x01}

// Document is a minimal DID document: enough to advertise the single
// Ed25519 verification key bound to the agent's DID.
type Document struct {
	Context            []string            `json:"@context"`
	ID                 string              `json:"id"`
	VerificationMethod []VerificationEntry `json:"verificationMethod"`
	Authentication     []string            `json:"authentication"`
}

// VerificationEntry describes one public key embedded in a DID document.
type VerificationEntry struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Identity is the (private key, DID, DID document) triple an agent
// persists across restarts.
type Identity struct {
	DID           string             `json:"did"`
	PrivateKey    ed25519.PrivateKey `json:"-"`
	PrivateKeyPEM string             `json:"privateKeyPem"`
	DIDDocument   Document           `json:"didDocument"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// PublicKey returns the Ed25519 public key half of this identity.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.PrivateKey.Public().(ed25519.PublicKey)
}

// Sign signs data with this identity's private key.
func (id *Identity) Sign(data []byte) []byte {
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	return ed25519.Sign(id.PrivateKey, data)
}

// fileRecord is what actually gets marshaled to disk; PrivateKey itself is
// not JSON-serializable so the PEM form carries it.
type fileRecord struct {
	DID           string    `json:"did"`
	PrivateKeyPEM string    `json:"private_key_pem"`
	DIDDocument   Document  `json:"did_document_json"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Generate creates a brand new identity: a fresh Ed25519 key pair, a
// did:key identifier derived from the public key, and a single-key DID
// document.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key pair: %w", err)
	}

	did := didFromPublicKey(pub)
	pemStr, err := encodePrivateKeyPEM(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: encode private key: %w", err)
	}

	id := &Identity{
		DID:           did,
		PrivateKey:    priv,
		PrivateKeyPEM: pemStr,
		CreatedAt:     time.Now().UTC(),
	}
	id.DIDDocument = buildDocument(did, pub)
	return id, nil
}

// LoadOrGenerate loads a persisted identity from path, generating and
// persisting a new one if the file does not yet exist. This is the entry
// point the demo CLIs use: identity is immutable once
// minted, so every subsequent process start reuses the same DID.
func LoadOrGenerate(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: stat %s: %w", path, err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	logger.Info("identity generated", logger.String("did", id.DID), logger.String("path", path))
	return id, nil
}

// Load reads a persisted identity back from disk.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}

	priv, err := decodePrivateKeyPEM(rec.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}

	return &Identity{
		DID:           rec.DID,
		PrivateKey:    priv,
		PrivateKeyPEM: rec.PrivateKeyPEM,
		DIDDocument:   rec.DIDDocument,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

// Save persists the identity to path as a single JSON file, creating parent
// directories as needed.
func (id *Identity) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("identity: mkdir %s: %w", dir, err)
		}
	}

	rec := fileRecord{
		DID:           id.DID,
		PrivateKeyPEM: id.PrivateKeyPEM,
		DIDDocument:   id.DIDDocument,
		CreatedAt:     id.CreatedAt,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

func didFromPublicKey(pub ed25519.PublicKey) string {
	encoded := append(append([]byte{}, didKeyMulticodecEd25519...), pub...)
	return "did:key:z" + base58.Encode(encoded)
}

func buildDocument(did string, pub ed25519.PublicKey) Document {
	keyID := did + "#keys-1"
	return Document{
		Context: []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/suites/ed25519-2020/v1",
		},
		ID: did,
		VerificationMethod: []VerificationEntry{
			{
				ID:                 keyID,
				Type:               "Ed25519VerificationKey2020",
				Controller:         did,
				PublicKeyMultibase: "z" + base58.Encode(pub),
			},
		},
		Authentication: []string{keyID},
	}
}

func encodePrivateKeyPEM(priv ed25519.PrivateKey) (string, error) {
	block := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: priv,
	}
	return string(pem.EncodeToMemory(block)), nil
}

func decodePrivateKeyPEM(s string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("unexpected private key size %d", len(block.Bytes))
	}
	return ed25519.PrivateKey(block.Bytes), nil
}
