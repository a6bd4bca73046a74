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

package negotiation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm/llmtest"
)

func TestGenerateInitialProposalSetsRoundOne(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			Result{Status: StatusProposing, CandidateProtocol: "protocol-v1"},
		},
	}
	n := NewRequesterNegotiator(fake, "translate text", "string", "string")

	result, err := n.GenerateInitialProposal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Round)
	assert.Equal(t, StatusProposing, result.Status)
}

func TestRequesterEvaluationAcceptsAndAdvancesRoundByTwo(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			Result{Status: StatusProposing, CandidateProtocol: "protocol-v1"},
			Result{Status: StatusAccepted, CandidateProtocol: "protocol-v1-from-provider"},
		},
	}
	n := NewRequesterNegotiator(fake, "translate text", "string", "string")

	_, err := n.GenerateInitialProposal(context.Background())
	require.NoError(t, err)

	result, err := n.EvaluateProposal(context.Background(), Result{
		Status: StatusProposing, CandidateProtocol: "protocol-v1", Round: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Equal(t, 3, result.Round)
	// This side's own last proposal wins over the peer's echoed protocol.
	assert.Equal(t, "protocol-v1", result.CandidateProtocol)
}

func TestSequenceMismatchIsToleratedNotRejected(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			Result{Status: StatusNegotiating, CandidateProtocol: "revised"},
		},
	}
	n := NewRequesterNegotiator(fake, "req", "in", "out")
	n.round = 5        // pretend the next expected incoming round is 6
	n.maxRounds = 1000 // keep the round cap out of this test

	result, err := n.EvaluateProposal(context.Background(), Result{
		Status: StatusProposing, CandidateProtocol: "p", Round: 99, // wildly mismatched
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNegotiating, result.Status)
	assert.Equal(t, 100, result.Round)
}

func TestEvaluateProposalRejectsPastMaxRoundsWithoutCallingModel(t *testing.T) {
	fake := &llmtest.FakeClient{} // no responses queued; a call would fail the test
	n := NewRequesterNegotiator(fake, "req", "in", "out")
	n.maxRounds = 4

	result, err := n.EvaluateProposal(context.Background(), Result{
		Status: StatusNegotiating, CandidateProtocol: "p", Round: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, 5, result.Round)
}

func TestProviderEvaluationCallsCapabilityInfoToolAndAccepts(t *testing.T) {
	fake := &llmtest.FakeClient{
		ToolScript: []llmtest.ToolRound{
			{Calls: []llm.ToolCall{{ID: "c1", Name: getCapabilityInfoToolName, Arguments: `{"topic":"auth"}`}}},
			{Final: `{"status":"ACCEPTED","candidateProtocol":"protocol-v1"}`},
		},
	}

	var askedTopics []string
	capInfo := func(ctx context.Context, topic string) (string, error) {
		askedTopics = append(askedTopics, topic)
		return "supports bearer auth", nil
	}

	n := NewProviderNegotiator(fake, capInfo)
	result, err := n.EvaluateProposal(context.Background(), Result{
		Status: StatusProposing, CandidateProtocol: "protocol-v1", Round: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	require.Len(t, askedTopics, 1)
	assert.Equal(t, "auth", askedTopics[0])
	assert.Len(t, n.capabilityInfoHistory, 1)
}

func TestProviderEvaluationRejectsOnUnparseableFinalAnswer(t *testing.T) {
	fake := &llmtest.FakeClient{
		ToolScript: []llmtest.ToolRound{
			{Final: "not json"},
		},
	}
	n := NewProviderNegotiator(fake, func(ctx context.Context, topic string) (string, error) { return "", nil })

	result, err := n.EvaluateProposal(context.Background(), Result{CandidateProtocol: "p", Round: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
}

func TestInvalidStatusFromModelIsRejected(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			Result{Status: "MAYBE", CandidateProtocol: "p"},
		},
	}
	n := NewRequesterNegotiator(fake, "req", "in", "out")

	result, err := n.EvaluateProposal(context.Background(), Result{CandidateProtocol: "p", Round: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
}
