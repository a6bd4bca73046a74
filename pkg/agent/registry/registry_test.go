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

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
)

func sampleBundle(moduleName string) codegen.Bundle {
	desc := codegen.InterfaceDescriptor{
		FunctionName: "sendRequest",
		ModuleName:   moduleName,
		Parameters:   map[string]any{"type": "object"},
		Returns:      map[string]any{"type": "object"},
	}
	plan := codegen.CallPlan{
		ModuleName:     moduleName,
		MessageType:    "echo.request",
		RequestFields:  []codegen.FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
		ResponseFields: []codegen.FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
		TimeoutSeconds: 15,
		SuccessCode:    200,
	}
	return codegen.Bundle{
		ProtocolName:        moduleName,
		ProtocolVersion:     "1.0",
		ProtocolDocument:    "# " + moduleName + "\n",
		RequesterDescriptor: desc,
		RequesterPlan:       plan,
		ProviderDescriptor:  desc,
		ProviderPlan:        plan,
	}
}

func TestLoadIndexesBundleByProtocolHash(t *testing.T) {
	root := t.TempDir()
	moduleName, err := codegen.Persist(root, sampleBundle("echoProtocol"))
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.Load(filepath.Join(root, moduleName)))

	protocolHash, err := codegen.HashFile(filepath.Join(root, moduleName, "protocol_document.md"))
	require.NoError(t, err)

	req, ok := r.GetRequesterByHash(protocolHash)
	require.True(t, ok)
	assert.Equal(t, protocolHash, req.ProtocolHash)

	prov, ok := r.GetProviderByHash(protocolHash)
	require.True(t, ok)
	assert.Equal(t, protocolHash, prov.ProtocolHash)
}

func TestLoadRejectsTamperedBundle(t *testing.T) {
	root := t.TempDir()
	moduleName, err := codegen.Persist(root, sampleBundle("tampered"))
	require.NoError(t, err)

	dir := filepath.Join(root, moduleName)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "protocol_document.md"), []byte("# tampered\n"), 0o644))

	r := New()
	err = r.Load(dir)
	require.Error(t, err)
}

func TestLoadRootsSkipsInvalidBundleWithoutBlockingSiblings(t *testing.T) {
	root := t.TempDir()

	goodModule, err := codegen.Persist(root, sampleBundle("good"))
	require.NoError(t, err)

	badDir := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "meta_data.json"), []byte("not json"), 0o644))

	r := New()
	require.NoError(t, r.LoadRoots([]string{root}))

	protocolHash, err := codegen.HashFile(filepath.Join(root, goodModule, "protocol_document.md"))
	require.NoError(t, err)
	_, ok := r.GetRequesterByHash(protocolHash)
	assert.True(t, ok)
}

func TestLoadRootsToleratesMissingRoot(t *testing.T) {
	r := New()
	err := r.LoadRoots([]string{filepath.Join(t.TempDir(), "does-not-exist")})
	assert.NoError(t, err)
}

func TestRegisterIsEquivalentToLoad(t *testing.T) {
	root := t.TempDir()
	moduleName, err := codegen.Persist(root, sampleBundle("registerMe"))
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.Register(filepath.Join(root, moduleName)))

	protocolHash, err := codegen.HashFile(filepath.Join(root, moduleName, "protocol_document.md"))
	require.NoError(t, err)
	_, ok := r.GetRequesterByHash(protocolHash)
	assert.True(t, ok)
}
