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

package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
)

// MetaDataSpecVersion is the meta_data.json schema version this module
// writes and expects to read back.
const MetaDataSpecVersion = "1.0"

// FileHash is one entry in meta_data.json's files map.
type FileHash struct {
	File string `json:"file"`
	Hash string `json:"hash"`
}

// MetaData is the manifest every artifact bundle directory carries,
// recording a sha256 hash for each file it lists so the registry can
// verify the bundle before trusting any of it.
type MetaData struct {
	MetaDataSpecificationVersion string              `json:"meta_data_specification_version"`
	ProtocolName                 string              `json:"protocol_name"`
	ProtocolVersion              string              `json:"protocol_version"`
	Timestamp                    string              `json:"timestamp"`
	Files                        map[string]FileHash `json:"files"`
}

// Bundle is everything Persist needs to write one side's artifact
// directory plus its shared metadata and protocol document.
type Bundle struct {
	ProtocolName     string
	ProtocolVersion  string
	ProtocolDocument string

	RequesterDescriptor InterfaceDescriptor
	RequesterPlan       CallPlan
	ProviderDescriptor  InterfaceDescriptor
	ProviderPlan        CallPlan
}

const (
	fileProtocolDocument    = "protocol_document.md"
	fileRequester           = "requester.json"
	fileRequesterDesc       = "requester_description.json"
	fileProvider            = "provider.json"
	fileProviderDesc        = "provider_description.json"
	keyProtocolDocument     = "protocol_document"
	keyRequester            = "requester"
	keyRequesterDescription = "requester_description"
	keyProvider             = "provider"
	keyProviderDescription  = "provider_description"
)

// Persist writes a complete artifact bundle under outputRoot: if a
// directory named after the module already exists, a millisecond
// timestamp suffix is appended so both names remain valid registry
// entries. Every file is hashed after it's written; nothing is trusted
// back from what was about to be written.
//
// Failures are logged; whatever was written so far is left in place for
// diagnosis rather than cleaned up.
func Persist(outputRoot string, bundle Bundle) (string, error) {
	moduleName := bundle.RequesterDescriptor.ModuleName
	dir := filepath.Join(outputRoot, moduleName)
	if _, err := os.Stat(dir); err == nil {
		moduleName = fmt.Sprintf("%s-%d", moduleName, time.Now().UnixMilli())
		dir = filepath.Join(outputRoot, moduleName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("codegen: persist: mkdir failed", logger.Error(err))
		return "", fmt.Errorf("codegen: persist: mkdir %s: %w", dir, err)
	}

	meta := MetaData{
		MetaDataSpecificationVersion: MetaDataSpecVersion,
		ProtocolName:                 bundle.ProtocolName,
		ProtocolVersion:              bundle.ProtocolVersion,
		Timestamp:                    time.Now().UTC().Format(time.RFC3339),
		Files:                        map[string]FileHash{},
	}

	writers := []struct {
		key  string
		file string
		data any
	}{
		{keyRequester, fileRequester, bundle.RequesterPlan},
		{keyRequesterDescription, fileRequesterDesc, bundle.RequesterDescriptor},
		{keyProvider, fileProvider, bundle.ProviderPlan},
		{keyProviderDescription, fileProviderDesc, bundle.ProviderDescriptor},
	}

	if err := writeHashedFile(dir, fileProtocolDocument, []byte(bundle.ProtocolDocument), &meta, keyProtocolDocument); err != nil {
		logger.Warn("codegen: persist: write protocol document failed", logger.Error(err))
		return "", err
	}

	for _, w := range writers {
		raw, err := json.MarshalIndent(w.data, "", "  ")
		if err != nil {
			logger.Warn("codegen: persist: marshal failed", logger.String("file", w.file), logger.Error(err))
			return "", fmt.Errorf("codegen: persist: marshal %s: %w", w.file, err)
		}
		if err := writeHashedFile(dir, w.file, raw, &meta, w.key); err != nil {
			logger.Warn("codegen: persist: write failed", logger.String("file", w.file), logger.Error(err))
			return "", err
		}
	}

	metaRaw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("codegen: persist: marshal meta_data.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta_data.json"), metaRaw, 0o644); err != nil {
		return "", fmt.Errorf("codegen: persist: write meta_data.json: %w", err)
	}

	return moduleName, nil
}

func writeHashedFile(dir, name string, data []byte, meta *MetaData, key string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	meta.Files[key] = FileHash{File: name, Hash: hash}
	return nil
}

// HashFile recomputes a file's sha256 hash from disk, prefixed
// "sha256:". The registry uses this to verify a bundle on every load
// rather than trusting meta_data.json's recorded hash. File hashes must
// be recomputed on reload, never trusted from the manifest.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("codegen: hash file %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
