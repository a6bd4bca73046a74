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

// Package registry is the protocol artifact registry: it scans configured
// roots for generated bundle directories, hash-verifies every one, and
// indexes the ones that pass by protocol hash. "Loading" a bundle means
// validating its call plans and parsing its descriptors; executing one means handing
// its plan to a codegen/planrun interpreter instance.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
)

// RequesterContainer is everything the registry knows about one loaded
// requester artifact. Plan is handed to planrun.NewRequester by the
// orchestrator to construct a fresh, session-scoped instance: the plan
// itself is immutable and safe to share, but a RequesterBase instance
// carries per-session pending-request state and must not be.
type RequesterContainer struct {
	ProtocolHash     string
	ProtocolDocument string
	Plan             codegen.CallPlan
	Description      codegen.InterfaceDescriptor
}

// ProviderContainer is the provider-side counterpart of RequesterContainer.
type ProviderContainer struct {
	ProtocolHash     string
	ProtocolDocument string
	Plan             codegen.CallPlan
	Description      codegen.InterfaceDescriptor
}

// Registry is the process-wide, hash-indexed set of successfully loaded
// artifact bundles. It is safe for concurrent Load and lookup calls: two
// sessions generating the same protocol concurrently both idempotently
// resolve to the same hash key.
type Registry struct {
	mu         sync.RWMutex
	requesters map[string]RequesterContainer
	providers  map[string]ProviderContainer
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		requesters: make(map[string]RequesterContainer),
		providers:  make(map[string]ProviderContainer),
	}
}

// LoadRoots scans every directory under each of roots for a bundle
// subdirectory (one containing meta_data.json) and loads each one that
// verifies. An invalid bundle is logged and skipped; it never blocks
// sibling bundles from loading.
func (r *Registry) LoadRoots(roots []string) error {
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("registry: read root %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if err := r.Load(dir); err != nil {
				logger.Warn("registry: skipping invalid bundle", logger.String("dir", dir), logger.Error(err))
			}
		}
	}
	return nil
}

// Load verifies and loads a single bundle directory. It is idempotent:
// loading the same verified bundle twice just overwrites its entry with
// an identical one.
func (r *Registry) Load(dir string) error {
	meta, err := readMetaData(dir)
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("read_error").Inc()
		return err
	}
	if err := verifyBundle(dir, meta); err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("hash_mismatch").Inc()
		return err
	}

	protocolDoc, err := os.ReadFile(filepath.Join(dir, meta.Files["protocol_document"].File))
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("read_error").Inc()
		return fmt.Errorf("registry: read protocol document: %w", err)
	}
	protocolHash := meta.Files["protocol_document"].Hash

	requesterPlan, err := readCallPlan(dir, meta, "requester")
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("parse_error").Inc()
		return err
	}
	requesterDesc, err := readDescriptor(dir, meta, "requester_description")
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("parse_error").Inc()
		return err
	}
	providerPlan, err := readCallPlan(dir, meta, "provider")
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("parse_error").Inc()
		return err
	}
	providerDesc, err := readDescriptor(dir, meta, "provider_description")
	if err != nil {
		metrics.RegistryBundlesRejected.WithLabelValues("parse_error").Inc()
		return err
	}

	r.mu.Lock()
	r.requesters[protocolHash] = RequesterContainer{
		ProtocolHash:     protocolHash,
		ProtocolDocument: string(protocolDoc),
		Plan:             *requesterPlan,
		Description:      *requesterDesc,
	}
	r.providers[protocolHash] = ProviderContainer{
		ProtocolHash:     protocolHash,
		ProtocolDocument: string(protocolDoc),
		Plan:             *providerPlan,
		Description:      *providerDesc,
	}
	r.mu.Unlock()

	metrics.RegistryBundlesLoaded.Inc()
	return nil
}

// Count returns how many distinct protocol hashes are currently loaded.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requesters)
}

// GetRequesterByHash returns the requester container for protocolHash, or
// ok=false if nothing valid was loaded under that hash.
func (r *Registry) GetRequesterByHash(protocolHash string) (RequesterContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.requesters[protocolHash]
	return c, ok
}

// GetProviderByHash is the provider-side counterpart of GetRequesterByHash.
func (r *Registry) GetProviderByHash(protocolHash string) (ProviderContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[protocolHash]
	return c, ok
}

// Register loads a bundle directory the orchestrator just finished
// writing via codegen.Generate/Persist. It is a thin alias for Load: the
// bundle was just written to dir, so re-reading and re-verifying it here
// is also how every other process that later starts up and points
// LoadRoots at the same directory will see it, keeping the two load paths
// identical rather than maintaining a second, unverified fast path.
func (r *Registry) Register(dir string) error {
	return r.Load(dir)
}

func readMetaData(dir string) (*codegen.MetaData, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "meta_data.json"))
	if err != nil {
		return nil, fmt.Errorf("registry: read meta_data.json: %w", err)
	}
	var meta codegen.MetaData
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("registry: parse meta_data.json: %w", err)
	}
	for _, key := range []string{"protocol_document", "requester", "requester_description", "provider", "provider_description"} {
		if _, ok := meta.Files[key]; !ok {
			return nil, fmt.Errorf("registry: meta_data.json missing entry %q", key)
		}
	}
	return &meta, nil
}

// verifyBundle recomputes every listed file's hash from disk and compares
// it against what meta_data.json recorded: hashes are never
// trusted from the manifest, only recomputed.
func verifyBundle(dir string, meta *codegen.MetaData) error {
	for key, entry := range meta.Files {
		path := filepath.Join(dir, entry.File)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("registry: file %q (%s) missing: %w", key, entry.File, err)
		}
		actual, err := codegen.HashFile(path)
		if err != nil {
			return err
		}
		if actual != entry.Hash {
			return fmt.Errorf("registry: hash mismatch for %q (%s): recorded %s, actual %s", key, entry.File, entry.Hash, actual)
		}
	}
	return nil
}

func readCallPlan(dir string, meta *codegen.MetaData, key string) (*codegen.CallPlan, error) {
	raw, err := os.ReadFile(filepath.Join(dir, meta.Files[key].File))
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", key, err)
	}
	var plan codegen.CallPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", key, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("registry: %s fails validation: %w", key, err)
	}
	return &plan, nil
}

func readDescriptor(dir string, meta *codegen.MetaData, key string) (*codegen.InterfaceDescriptor, error) {
	raw, err := os.ReadFile(filepath.Join(dir, meta.Files[key].File))
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", key, err)
	}
	var desc codegen.InterfaceDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", key, err)
	}
	return &desc, nil
}
