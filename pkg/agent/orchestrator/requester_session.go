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

// RequesterSession is a fully negotiated, ready-to-drive requester side of
// an application protocol: Requester.SendRequest is the one call a caller
// needs to exchange application traffic with the peer.
type RequesterSession struct {
	Requester        protocolbase.RequesterBase
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

func newRequesterSession(ctx context.Context, cancel context.CancelFunc, collab *session.Collaborator, mp *metaprotocol.MetaProtocol, demux *frame.Demultiplexer, container registry.RequesterContainer, remoteDID string) *RequesterSession {
	requester := planrun.NewRequester(container.Plan)
	requester.SetSendCallback(func(ctx context.Context, payload []byte) error {
		return collab.Send(ctx, frame.Encode(frame.Application, payload))
	})
	return &RequesterSession{
		Requester:        requester,
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

// Close tears down the underlying secure session and stops the
// demultiplexer's receive loop.
func (s *RequesterSession) Close() error {
	s.cancel()
	return s.collab.Close()
}
