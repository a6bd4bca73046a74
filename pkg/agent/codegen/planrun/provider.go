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

package planrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/protocolbase"
)

// PlannedProvider is a ProviderBase driven entirely by a CallPlan: parse a
// request per RequestFields, invoke the user callback, map its output back
// per ResponseFields, preserving messageId.
type PlannedProvider struct {
	plan codegen.CallPlan

	mu       sync.Mutex
	send     protocolbase.SendCallback
	callback protocolbase.ProtocolCallback
}

// NewProvider constructs a PlannedProvider bound to plan.
func NewProvider(plan codegen.CallPlan) *PlannedProvider {
	return &PlannedProvider{plan: plan}
}

// SetSendCallback implements protocolbase.ProviderBase.
func (p *PlannedProvider) SetSendCallback(send protocolbase.SendCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = send
}

// SetProtocolCallback implements protocolbase.ProviderBase.
func (p *PlannedProvider) SetProtocolCallback(cb protocolbase.ProtocolCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = cb
}

// HandleMessage implements protocolbase.ProviderBase: parse the incoming
// wire message, invoke the protocol callback, assemble and send a
// response preserving messageId.
func (p *PlannedProvider) HandleMessage(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	send, callback := p.send, p.callback
	p.mu.Unlock()

	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("planrun: provider: dropping undecodable request", logger.Error(err))
		return nil
	}
	messageID, _ := msg["messageId"].(string)

	if send == nil {
		return fmt.Errorf("planrun: provider: no send callback bound")
	}
	if callback == nil {
		return p.reply(ctx, send, messageID, nil, protocolbase.CodeInternalServerError)
	}

	input := map[string]any{}
	for _, f := range p.plan.RequestFields {
		v, ok := msg[f.WireName]
		if !ok {
			if f.Required {
				return p.reply(ctx, send, messageID, nil, protocolbase.CodeBadRequest)
			}
			continue
		}
		input[f.LocalName] = v
	}

	output, err := callback(ctx, input)
	if err != nil {
		logger.Warn("planrun: provider: protocol callback failed", logger.Error(err))
		return p.reply(ctx, send, messageID, nil, protocolbase.CodeInternalServerError)
	}

	code := p.plan.SuccessCode
	if code == 0 {
		code = protocolbase.CodeOK
	}
	return p.reply(ctx, send, messageID, output, code)
}

func (p *PlannedProvider) reply(ctx context.Context, send protocolbase.SendCallback, messageID string, output map[string]any, code int) error {
	resp := wireMessage{
		"messageType": p.plan.MessageType,
		"messageId":   messageID,
		"code":        code,
	}
	for _, f := range p.plan.ResponseFields {
		if v, ok := output[f.LocalName]; ok {
			resp[f.WireName] = v
		}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("planrun: provider: marshal response: %w", err)
	}
	return send(ctx, data)
}
