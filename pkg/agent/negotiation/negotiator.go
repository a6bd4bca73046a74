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
	"fmt"
	"sync"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
)

// CapabilityInfoFunc answers the provider-side get_capability_info tool
// call with a free-form description of whatever the proposal is asking
// about.
type CapabilityInfoFunc func(ctx context.Context, topic string) (string, error)

// Negotiator drives one side of a protocol negotiation. It is not safe for
// concurrent use by multiple goroutines evaluating different proposals at
// once, since the history and round counters are sequential by nature;
// one Negotiator belongs to one in-flight negotiation.
type Negotiator struct {
	mu sync.Mutex

	role   Role
	client llm.Client

	// Requester-only fields.
	requirement string
	inputDesc   string
	outputDesc  string

	// Provider-only fields.
	capabilityInfo CapabilityInfoFunc

	status                Status
	round                 int
	negotiationHistory    []HistoryEntry
	capabilityInfoHistory []string
	maxRounds             int
}

// NewRequesterNegotiator creates a Negotiator that proposes protocols and
// evaluates the provider's counter-proposals against its own requirement.
func NewRequesterNegotiator(client llm.Client, requirement, inputDesc, outputDesc string) *Negotiator {
	return &Negotiator{
		role:        RoleRequester,
		client:      client,
		requirement: requirement,
		inputDesc:   inputDesc,
		outputDesc:  outputDesc,
		status:      StatusInit,
		maxRounds:   DefaultMaxRounds,
	}
}

// NewProviderNegotiator creates a Negotiator that evaluates a requester's
// proposals against a capability, consulting capabilityInfo as needed.
func NewProviderNegotiator(client llm.Client, capabilityInfo CapabilityInfoFunc) *Negotiator {
	return &Negotiator{
		role:           RoleProvider,
		client:         client,
		capabilityInfo: capabilityInfo,
		status:         StatusInit,
		maxRounds:      DefaultMaxRounds,
	}
}

// Status returns the negotiator's current state.
func (n *Negotiator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// GenerateInitialProposal produces round 1's candidate protocol. Only the
// requester side calls this; the provider side starts by evaluating
// whatever proposal it receives.
func (n *Negotiator) GenerateInitialProposal(ctx context.Context) (*Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != RoleRequester {
		return nil, fmt.Errorf("negotiation: only the requester generates an initial proposal")
	}

	n.status = StatusProposing
	n.round = 1

	sys, user := buildInitialProposalPrompt(n.requirement, n.inputDesc, n.outputDesc, n.round)

	var result Result
	if err := n.client.ChatJSON(ctx, sys, user, &result); err != nil {
		return nil, fmt.Errorf("negotiation: generate initial proposal: %w", err)
	}
	result.Round = n.round
	result.Status = StatusProposing

	n.negotiationHistory = append(n.negotiationHistory, HistoryEntry{
		Round: n.round, Status: result.Status, CandidateProtocol: result.CandidateProtocol,
	})

	return &result, nil
}

// EvaluateProposal evaluates a proposal received from the peer and
// returns this side's response. A round/sequence mismatch against what
// this Negotiator expects is logged and the evaluation proceeds anyway;
// the peer's round numbering is advisory bookkeeping, not a
// synchronization barrier.
func (n *Negotiator) EvaluateProposal(ctx context.Context, incoming Result) (*Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.checkRoundLocked(incoming.Round)
	n.status = StatusEvaluating

	// Responding to round k means emitting round k+1: each side's own
	// rounds advance by 2 (one odd series, one even), interleaved with the
	// peer's.
	nextRound := incoming.Round + 1

	var result Result
	var err error
	switch {
	case nextRound > n.maxRounds:
		result = Result{Status: StatusRejected, ModificationSummary: "negotiation exceeded max-rounds cap"}
	case n.role == RoleProvider:
		result, err = n.evaluateAsProviderLocked(ctx, incoming)
	case n.role == RoleRequester:
		result, err = n.evaluateAsRequesterLocked(ctx, incoming)
	default:
		return nil, fmt.Errorf("negotiation: unknown role %q", n.role)
	}
	if err != nil {
		return nil, err
	}

	result.Round = nextRound
	n.round = nextRound

	if result.Status == StatusAccepted && len(n.negotiationHistory) > 0 {
		// This side's own last proposal wins over whatever candidate
		// protocol string rode along on the ACCEPTED message, since that
		// is the version this side actually evaluated and approved.
		result.CandidateProtocol = n.negotiationHistory[len(n.negotiationHistory)-1].CandidateProtocol
	}

	n.status = result.Status
	n.negotiationHistory = append(n.negotiationHistory, HistoryEntry{
		Round: nextRound, Status: result.Status, CandidateProtocol: result.CandidateProtocol,
	})

	metrics.NegotiationRounds.WithLabelValues(string(n.role)).Inc()
	if result.Status == StatusAccepted || result.Status == StatusRejected {
		metrics.NegotiationOutcomes.WithLabelValues(string(n.role), string(result.Status)).Inc()
	}

	return &result, nil
}

// checkRoundLocked logs, but does not reject, a round number that doesn't
// match what this side expected next.
func (n *Negotiator) checkRoundLocked(gotRound int) {
	if n.round != 0 && gotRound != n.round+1 {
		logger.Warn("negotiation round mismatch, proceeding anyway",
			logger.Int("expected", n.round+1), logger.Int("got", gotRound))
	}
}

func (n *Negotiator) evaluateAsRequesterLocked(ctx context.Context, incoming Result) (Result, error) {
	sys, user := buildRequesterEvaluationPrompt(n.requirement, n.inputDesc, n.outputDesc, incoming)

	var result Result
	if err := n.client.ChatJSON(ctx, sys, user, &result); err != nil {
		return Result{}, fmt.Errorf("negotiation: requester evaluation: %w", err)
	}
	if !validStatus(result.Status) {
		result.Status = StatusRejected
		result.ModificationSummary = "model returned an invalid status"
	}
	return result, nil
}

func (n *Negotiator) evaluateAsProviderLocked(ctx context.Context, incoming Result) (Result, error) {
	sys, user := buildProviderEvaluationPrompt(incoming, n.capabilityInfoHistory)

	tools := []llm.Tool{{
		Name:        getCapabilityInfoToolName,
		Description: "Ask whether/how this agent's capability can satisfy some aspect of the proposed protocol.",
		Parameters:  getCapabilityInfoToolParameters(),
	}}

	toolRes, err := n.client.ChatWithTools(ctx, llm.ToolChatRequest{
		SystemPrompt: sys,
		UserPrompt:   user,
		Tools:        tools,
		Invoke: func(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
			topic := extractTopic(call.Arguments)
			info, err := n.capabilityInfo(ctx, topic)
			if err != nil {
				return llm.ToolResult{}, err
			}
			n.capabilityInfoHistory = append(n.capabilityInfoHistory, info)
			return llm.ToolResult{ToolCallID: call.ID, Content: info}, nil
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("negotiation: provider evaluation: %w", err)
	}

	result, err := parseResult(toolRes.Content)
	if err != nil {
		logger.Warn("provider evaluation produced unparseable result, rejecting", logger.Error(err))
		return Result{Status: StatusRejected, ModificationSummary: "could not parse model output"}, nil
	}
	if !validStatus(result.Status) {
		result.Status = StatusRejected
		result.ModificationSummary = "model returned an invalid status"
	}
	return result, nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusAccepted, StatusNegotiating, StatusRejected:
		return true
	default:
		return false
	}
}
