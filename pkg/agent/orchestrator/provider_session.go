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

package orchestrator

import (
	"context"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen/planrun"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/metaprotocol"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/protocolbase"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/registry"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/session"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/frame"
)

// ProviderSession is a fully negotiated, ready-to-serve provider side of an
// application protocol. The caller must call SetProtocolCallback before
// any application traffic can be satisfied; until then HandleMessage
// replies to every request with an internal-server-error code.
type ProviderSession struct {
	Provider         protocolbase.ProviderBase
	Description      codegen.InterfaceDescriptor
	ProtocolHash     string
	ProtocolDocument string
	RemoteDID        string

	ctx    context.Context
	cancel context.CancelFunc
	collab *session.Collaborator
	mp     *metaprotocol.MetaProtocol
	demux  *frame.Demultiplexer
}

func newProviderSession(ctx context.Context, cancel context.CancelFunc, collab *session.Collaborator, mp *metaprotocol.MetaProtocol, demux *frame.Demultiplexer, container registry.ProviderContainer, remoteDID string) *ProviderSession {
	provider := planrun.NewProvider(container.Plan)
	provider.SetSendCallback(func(ctx context.Context, payload []byte) error {
		return collab.Send(ctx, frame.Encode(frame.Application, payload))
	})
	return &ProviderSession{
		Provider:         provider,
		Description:      container.Description,
		ProtocolHash:     container.ProtocolHash,
		ProtocolDocument: container.ProtocolDocument,
		RemoteDID:        remoteDID,
		ctx:              ctx,
		cancel:           cancel,
		collab:           collab,
		mp:               mp,
		demux:            demux,
	}
}

// SetProtocolCallback installs the handler that answers incoming requests.
func (s *ProviderSession) SetProtocolCallback(cb protocolbase.ProtocolCallback) {
	s.Provider.SetProtocolCallback(cb)
}

// Close tears down the underlying secure session and stops the
// demultiplexer's receive loop.
func (s *ProviderSession) Close() error {
	s.cancel()
	return s.collab.Close()
}
