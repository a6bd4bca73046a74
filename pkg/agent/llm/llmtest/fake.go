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

// Package llmtest provides a scriptable fake of llm.Client for use in tests
// of packages that depend on an LLM without making real network calls.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
)

// FakeClient answers Chat/ChatJSON calls from a queue of canned responses,
// consumed in order, and runs ChatWithTools against a caller-supplied
// script of tool calls followed by a final answer.
type FakeClient struct {
	ChatResponses     []string
	ChatJSONResponses []any
	ToolScript        []ToolRound

	chatIdx     int
	chatJSONIdx int
}

// ToolRound describes one round of a scripted tool-calling conversation:
// either a set of tool calls the fake model wants to make, or (when Calls
// is empty) the final answer.
type ToolRound struct {
	Calls []llm.ToolCall
	Final string
}

func (f *FakeClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.chatIdx >= len(f.ChatResponses) {
		return "", fmt.Errorf("llmtest: no more scripted Chat responses")
	}
	r := f.ChatResponses[f.chatIdx]
	f.chatIdx++
	return r, nil
}

func (f *FakeClient) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	if f.chatJSONIdx >= len(f.ChatJSONResponses) {
		return fmt.Errorf("llmtest: no more scripted ChatJSON responses")
	}
	v := f.ChatJSONResponses[f.chatJSONIdx]
	f.chatJSONIdx++

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *FakeClient) ChatWithTools(ctx context.Context, req llm.ToolChatRequest) (*llm.ToolChatResult, error) {
	for i, round := range f.ToolScript {
		if len(round.Calls) == 0 {
			return &llm.ToolChatResult{Content: round.Final, Rounds: i + 1}, nil
		}
		for _, call := range round.Calls {
			if _, err := req.Invoke(ctx, call); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("llmtest: tool script exhausted without a final answer")
}
