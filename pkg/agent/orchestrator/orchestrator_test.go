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
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/codegen"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/identity"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm/llmtest"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/negotiation"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/registry"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/websocket"
)

func echoDescriptor(moduleName string) codegen.InterfaceDescriptor {
	return codegen.InterfaceDescriptor{
		ModuleName: moduleName,
		Parameters: map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}},
		Returns:    map[string]any{"type": "object", "properties": map[string]any{"code": map[string]any{"type": "integer"}}},
	}
}

func echoCallPlan(moduleName string) codegen.CallPlan {
	return codegen.CallPlan{
		ModuleName:     moduleName,
		MessageType:    "echo.request",
		RequestFields:  []codegen.FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
		ResponseFields: []codegen.FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
		TimeoutSeconds: 5,
		SuccessCode:    200,
	}
}

// newEchoPair starts one provider listener and returns its URL, an
// Orchestrator per side, and a channel that receives the provider session
// once negotiation completes, so each test run is an independent session
// not sharing any state with another.
func newEchoPair(t *testing.T, moduleName string) (remoteURL string, requesterOrch, providerOrch *Orchestrator, providerReady chan *ProviderSession) {
	t.Helper()

	requesterID, err := identity.Generate()
	require.NoError(t, err)
	providerID, err := identity.Generate()
	require.NoError(t, err)

	requesterLLM := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			negotiation.Result{Status: negotiation.StatusProposing, CandidateProtocol: "# " + moduleName + "\n"},
			negotiation.Result{Status: negotiation.StatusAccepted, CandidateProtocol: "# " + moduleName + "\n"},
			echoDescriptor(moduleName),
			echoDescriptor(moduleName),
			echoCallPlan(moduleName),
			echoCallPlan(moduleName),
		},
	}
	providerLLM := &llmtest.FakeClient{
		ToolScript: []llmtest.ToolRound{
			{Final: fmt.Sprintf(`{"status":"ACCEPTED","candidateProtocol":"# %s\n"}`, moduleName)},
		},
		ChatJSONResponses: []any{
			echoDescriptor(moduleName),
			echoDescriptor(moduleName),
			echoCallPlan(moduleName),
			echoCallPlan(moduleName),
		},
	}

	requesterReg := registry.New()
	providerReg := registry.New()

	requesterOrch = New(requesterID, requesterLLM, requesterReg, t.TempDir())
	providerOrch = New(providerID, providerLLM, providerReg, t.TempDir())

	providerReady = make(chan *ProviderSession, 1)
	onReady := func(sess *ProviderSession, err error) {
		require.NoError(t, err)
		providerReady <- sess
	}
	capabilityInfo := func(ctx context.Context, topic string) (string, error) { return "ok", nil }

	listener := websocket.NewListener(providerOrch.AcceptWithNegotiation(capabilityInfo, onReady))
	server := httptest.NewServer(listener.Handler())
	t.Cleanup(server.Close)

	remoteURL = "ws" + strings.TrimPrefix(server.URL, "http")
	return remoteURL, requesterOrch, providerOrch, providerReady
}

func TestConnectWithNegotiationEndToEnd(t *testing.T) {
	remoteURL, requesterOrch, _, providerReady := newEchoPair(t, "echoProtocolE2E")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqSess, err := requesterOrch.ConnectWithNegotiation(ctx, remoteURL, "echo text back", "string", "string")
	require.NoError(t, err)
	defer reqSess.Close()

	provSess := <-providerReady
	defer provSess.Close()
	provSess.SetProtocolCallback(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"text": input["text"]}, nil
	})

	output, err := reqSess.Requester.SendRequest(ctx, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", output["text"])
}

func TestConcurrentIndependentSessionsDoNotCrossTalk(t *testing.T) {
	const pairs = 3
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			moduleName := fmt.Sprintf("echoProtocolConcurrent%d", i)
			remoteURL, requesterOrch, _, providerReady := newEchoPair(t, moduleName)

			reqSess, err := requesterOrch.ConnectWithNegotiation(ctx, remoteURL, "echo text back", "string", "string")
			require.NoError(t, err)
			defer reqSess.Close()

			provSess := <-providerReady
			defer provSess.Close()
			expected := fmt.Sprintf("payload-%d", i)
			provSess.SetProtocolCallback(func(ctx context.Context, input map[string]any) (map[string]any, error) {
				return map[string]any{"text": input["text"]}, nil
			})

			output, err := reqSess.Requester.SendRequest(ctx, map[string]any{"text": expected})
			require.NoError(t, err)
			assert.Equal(t, expected, output["text"])
		}()
	}
	wg.Wait()
}

func TestConnectWithNegotiationFailsWhenRemoteUnreachable(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	llmClient := &llmtest.FakeClient{}
	orch := New(id, llmClient, registry.New(), t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = orch.ConnectWithNegotiation(ctx, "ws://127.0.0.1:1/ws", "x", "y", "z")
	require.Error(t, err)
}
