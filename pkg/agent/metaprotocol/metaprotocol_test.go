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

package metaprotocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm/llmtest"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/negotiation"
)

func TestFullNegotiationReachesAcceptedOnBothSides(t *testing.T) {
	requesterLLM := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			negotiation.Result{Status: negotiation.StatusProposing, CandidateProtocol: "v1"},
			negotiation.Result{Status: negotiation.StatusAccepted, CandidateProtocol: "v1-from-provider"},
		},
	}
	providerLLM := &llmtest.FakeClient{
		ToolScript: []llmtest.ToolRound{
			{Final: `{"status":"ACCEPTED","candidateProtocol":"v1"}`},
		},
	}

	reqNeg := negotiation.NewRequesterNegotiator(requesterLLM, "req", "in", "out")
	provNeg := negotiation.NewProviderNegotiator(providerLLM, func(ctx context.Context, topic string) (string, error) {
		return "ok", nil
	})

	var reqMP, provMP *MetaProtocol
	reqMP = New(reqNeg, func(ctx context.Context, payload []byte) error {
		go func() {
			_, p, _ := decodeForTest(payload)
			_ = provMP.HandleMetaFrame(ctx, p)
		}()
		return nil
	})
	provMP = New(provNeg, func(ctx context.Context, payload []byte) error {
		go func() {
			_, p, _ := decodeForTest(payload)
			_ = reqMP.HandleMetaFrame(ctx, p)
		}()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resultCh := make(chan *negotiation.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := provMP.WaitRemoteNegotiation(ctx)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- r
	}()

	reqResult, err := reqMP.NegotiateProtocol(ctx)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusAccepted, reqResult.Status)

	select {
	case provResult := <-resultCh:
		assert.Equal(t, negotiation.StatusAccepted, provResult.Status)
	case err := <-errCh:
		t.Fatalf("provider side failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider result")
	}
}

func TestCodeGenerationBarrierWaitsForPeerAck(t *testing.T) {
	var mpB *MetaProtocol
	mpA := New(nil, func(ctx context.Context, payload []byte) error {
		_, p, _ := decodeForTest(payload)
		return mpB.HandleMetaFrame(ctx, p)
	})
	mpB = New(nil, func(ctx context.Context, payload []byte) error {
		_, p, _ := decodeForTest(payload)
		return mpA.HandleMetaFrame(ctx, p)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, mpA.NotifyCodeGeneration(ctx, CodeGenGenerated, ""))

	status, err := mpB.WaitForCodeGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, CodeGenGenerated, status)
}

func TestNegotiationTimesOutWhenPeerNeverResponds(t *testing.T) {
	neg := negotiation.NewProviderNegotiator(&llmtest.FakeClient{}, func(ctx context.Context, topic string) (string, error) {
		return "", nil
	})
	mp := New(neg, func(ctx context.Context, payload []byte) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mp.WaitRemoteNegotiation(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPeerRejectionTerminatesWithoutEvaluation(t *testing.T) {
	// No scripted responses: an LLM call would error the test.
	neg := negotiation.NewRequesterNegotiator(&llmtest.FakeClient{}, "req", "in", "out")
	mp := New(neg, func(ctx context.Context, payload []byte) error { return nil })

	require.NoError(t, mp.HandleMetaFrame(context.Background(),
		[]byte(`{"action":"protocolNegotiation","sequenceId":2,"status":"rejected","modificationSummary":"cannot serve"}`)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := mp.WaitRemoteNegotiation(ctx)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusRejected, result.Status)
	assert.Equal(t, "cannot serve", result.ModificationSummary)
}

func TestWaitForCodeGenerationTimesOutWithoutPeerAck(t *testing.T) {
	mp := New(nil, func(ctx context.Context, payload []byte) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mp.WaitForCodeGeneration(ctx)
	assert.Error(t, err)
}

func decodeForTest(payload []byte) (byte, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, nil
	}
	return payload[0], payload[1:], nil
}
