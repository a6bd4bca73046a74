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

// Package protocolbase declares the two contracts every generated
// application-protocol artifact must satisfy. It is deliberately the
// lowest-level package in the negotiation-to-application path: both the
// call-plan interpreter (pkg/agent/codegen/planrun), which implements
// these interfaces, and the session orchestrator (pkg/agent/orchestrator),
// which only ever calls through them, depend on it, but it depends on neither.
package protocolbase

import "context"

// SendCallback delivers an already-encoded application payload to the
// peer. The orchestrator binds this to the session's application-send
// path (frame.Encode(frame.Application, payload) followed by a
// Collaborator.Send); RequesterBase/ProviderBase implementations never
// touch the session directly.
type SendCallback func(ctx context.Context, payload []byte) error

// ProtocolCallback is the user-supplied handler a provider invokes once it
// has parsed an incoming request into a local input map. Its return value
// is mapped back onto the wire by the provider implementation.
type ProtocolCallback func(ctx context.Context, input map[string]any) (map[string]any, error)

// RequesterBase is the contract a generated requester artifact satisfies.
// planrun.PlannedRequester implements it for every call plan the registry
// admits.
type RequesterBase interface {
	// SetSendCallback binds the outbound path. Called once, by the
	// orchestrator, immediately after construction.
	SetSendCallback(send SendCallback)
	// HandleMessage is fed every application-protocol payload the demux
	// delivers to this session once negotiation has completed.
	HandleMessage(ctx context.Context, payload []byte) error
	// SendRequest is the single public entry point spec'd for requesters:
	// encode input per the agreed protocol, send it, and block for the
	// matching response (or the request's timeout).
	SendRequest(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ProviderBase is the contract a generated provider artifact satisfies.
type ProviderBase interface {
	// SetSendCallback binds the outbound path, same as RequesterBase.
	SetSendCallback(send SendCallback)
	// SetProtocolCallback installs the user's handler; HandleMessage
	// cannot process anything meaningfully until this has been called.
	SetProtocolCallback(cb ProtocolCallback)
	// HandleMessage parses an incoming request, invokes the protocol
	// callback, and sends the assembled response preserving messageId.
	HandleMessage(ctx context.Context, payload []byte) error
}
