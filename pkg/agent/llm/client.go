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

// Package llm provides the LLM client abstraction the meta-protocol
// negotiator and code generator use as their design oracle: free-form
// chat, strict-JSON chat, and tool-calling chat, all cancellable via
// context.Context.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sage-x-project/sage-metaprotocol/pkg/version"
)

// Tool is a single callable function exposed to the model during a
// tool-calling chat, described with a JSON-Schema parameters object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one invocation the model asked the caller to make.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments, as returned by the model
}

// ToolResult is the caller's answer to a ToolCall, fed back into the
// conversation on the next round.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// ToolChatRequest configures a tool-calling chat round.
type ToolChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tools        []Tool
	// Invoke is called once per tool call the model requests; the returned
	// ToolResult is appended to the transcript before asking the model to
	// continue. The loop ends when the model replies with no tool calls.
	Invoke func(ctx context.Context, call ToolCall) (ToolResult, error)
	// MaxRounds bounds the tool-calling loop; 0 means DefaultMaxToolRounds.
	MaxRounds int
}

// ToolChatResult is the final assistant message once the tool-calling loop
// has settled (no more tool calls pending).
type ToolChatResult struct {
	Content string
	Rounds  int
}

// DefaultMaxToolRounds guards against a misbehaving model looping forever.
const DefaultMaxToolRounds = 8

// Client is the LLM abstraction consumed by the negotiator and code
// generator. Every method is context-cancellable.
type Client interface {
	// Chat runs a single free-form completion.
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// ChatJSON runs a completion constrained to a single JSON object and
	// unmarshals it into out.
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error
	// ChatWithTools runs the tool-calling loop described by req.
	ChatWithTools(ctx context.Context, req ToolChatRequest) (*ToolChatResult, error)
}

// langchainClient implements Client over any langchaingo llms.Model, so it
// works unmodified against OpenAI-compatible endpoints, local model
// servers, or anything else langchaingo has a provider for.
type langchainClient struct {
	model llms.Model
}

// Options configures how the underlying langchaingo model is constructed.
type Options struct {
	BaseURL   string
	APIKey    string
	ModelName string
}

// userAgentDoer stamps every request to the model endpoint with this
// agent's User-Agent string.
type userAgentDoer struct {
	inner *http.Client
}

func (d userAgentDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	return d.inner.Do(req)
}

// New constructs a Client backed by langchaingo's OpenAI-compatible
// provider, pointed at opts.BaseURL (so it equally serves a real OpenAI
// endpoint or any self-hosted OpenAI-compatible inference server).
func New(opts Options) (Client, error) {
	model, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.ModelName),
		openai.WithHTTPClient(userAgentDoer{inner: http.DefaultClient}),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: construct openai client: %w", err)
	}
	return &langchainClient{model: model}, nil
}

// NewFromModel wraps an already-constructed langchaingo model, primarily
// for tests that supply a fake llms.Model.
func NewFromModel(model llms.Model) Client {
	return &langchainClient{model: model}
}

func (c *langchainClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm: chat: %w", err)
	}
	return firstChoiceContent(resp)
}

func (c *langchainClient) ChatJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return fmt.Errorf("llm: chat json: %w", err)
	}
	content, err := firstChoiceContent(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("llm: model did not return valid JSON: %w", err)
	}
	return nil
}

func (c *langchainClient) ChatWithTools(ctx context.Context, req ToolChatRequest) (*ToolChatResult, error) {
	maxRounds := req.MaxRounds
	if maxRounds == 0 {
		maxRounds = DefaultMaxToolRounds
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt),
	}

	tools := make([]llms.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	for round := 0; round < maxRounds; round++ {
		resp, err := c.model.GenerateContent(ctx, messages, llms.WithTools(tools))
		if err != nil {
			return nil, fmt.Errorf("llm: tool chat round %d: %w", round, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("llm: tool chat round %d: empty response", round)
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			return &ToolChatResult{Content: choice.Content, Rounds: round + 1}, nil
		}

		assistantParts := make([]llms.ContentPart, 0, len(choice.ToolCalls))
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, llms.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				FunctionCall: &llms.FunctionCall{
					Name:      tc.FunctionCall.Name,
					Arguments: tc.FunctionCall.Arguments,
				},
			})
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		for _, tc := range choice.ToolCalls {
			result, err := req.Invoke(ctx, ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			})
			if err != nil {
				return nil, fmt.Errorf("llm: tool invocation %s failed: %w", tc.FunctionCall.Name, err)
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: result.ToolCallID,
						Content:    result.Content,
					},
				},
			})
		}
	}

	return nil, fmt.Errorf("llm: tool chat did not converge within %d rounds", maxRounds)
}

func firstChoiceContent(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return resp.Choices[0].Content, nil
}
