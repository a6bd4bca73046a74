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

// Package planrun is the fixed, audited interpreter behind every generated
// protocol artifact: it reads a codegen.CallPlan and drives RequesterBase/
// ProviderBase behavior from it directly. The LLM emits a restricted,
// declarative call plan rather than executable code, so the only code that
// ever runs on a negotiated session is this package, which can be audited
// once rather than per generation.
package planrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/protocolbase"
)

// wireMessage is the generic request/response envelope the plan
// interpreter reads and writes: messageType + messageId for correlation,
// an HTTP-semantics code on responses, and whatever fields the call plan's
// field mappings put there.
type wireMessage map[string]any

// PlannedRequester is a RequesterBase driven entirely by a CallPlan: it
// knows nothing about the specific protocol beyond the field mappings and
// timeout the plan carries.
type PlannedRequester struct {
	plan codegen.CallPlan

	mu      sync.Mutex
	send    protocolbase.SendCallback
	pending map[string]chan wireMessage
}

// NewRequester constructs a PlannedRequester bound to plan. plan must have
// already passed Validate.
func NewRequester(plan codegen.CallPlan) *PlannedRequester {
	return &PlannedRequester{
		plan:    plan,
		pending: make(map[string]chan wireMessage),
	}
}

// SetSendCallback implements protocolbase.RequesterBase.
func (r *PlannedRequester) SetSendCallback(send protocolbase.SendCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.send = send
}

// SendRequest implements protocolbase.RequesterBase: map input onto the
// wire per RequestFields, send it, and block for the matching response.
func (r *PlannedRequester) SendRequest(ctx context.Context, input map[string]any) (map[string]any, error) {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send == nil {
		return nil, fmt.Errorf("planrun: requester: no send callback bound")
	}

	msg := wireMessage{
		"messageType": r.plan.MessageType,
		"messageId":   uuid.NewString(),
	}
	for _, f := range r.plan.RequestFields {
		v, ok := input[f.LocalName]
		if !ok {
			if f.Required {
				return nil, fmt.Errorf("planrun: requester: missing required field %q (code %d)", f.LocalName, protocolbase.CodeBadRequest)
			}
			continue
		}
		msg[f.WireName] = v
	}

	ch := make(chan wireMessage, 1)
	messageID := msg["messageId"].(string)
	r.mu.Lock()
	r.pending[messageID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, messageID)
		r.mu.Unlock()
	}()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("planrun: requester: marshal request: %w", err)
	}
	if err := send(ctx, payload); err != nil {
		return nil, fmt.Errorf("planrun: requester: send: %w", err)
	}

	timeout := time.Duration(r.plan.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = protocolbase.DefaultRequestTimeoutSeconds * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return r.mapResponse(resp), nil
	case <-timer.C:
		return map[string]any{"code": protocolbase.CodeGatewayTimeout},
			logger.NewSageError(logger.ErrCodeTimeout, fmt.Sprintf("request %s timed out after %s", messageID, timeout), nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *PlannedRequester) mapResponse(resp wireMessage) map[string]any {
	out := map[string]any{}
	if code, ok := resp["code"]; ok {
		out["code"] = code
	} else {
		out["code"] = protocolbase.CodeOK
	}
	for _, f := range r.plan.ResponseFields {
		if v, ok := resp[f.WireName]; ok {
			out[f.LocalName] = v
		}
	}
	return out
}

// HandleMessage implements protocolbase.RequesterBase: every application
// frame a requester receives is a response to an earlier SendRequest,
// correlated by messageId.
func (r *PlannedRequester) HandleMessage(ctx context.Context, payload []byte) error {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("planrun: requester: dropping undecodable response", logger.Error(err))
		return nil
	}
	messageID, _ := msg["messageId"].(string)
	r.mu.Lock()
	ch, ok := r.pending[messageID]
	r.mu.Unlock()
	if !ok {
		logger.Warn("planrun: requester: response for unknown messageId, dropping", logger.String("messageId", messageID))
		return nil
	}
	select {
	case ch <- msg:
	default:
	}
	return nil
}
