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

// Package metaprotocol wraps a Negotiator with the framing, message
// dispatch, and code-generation handshake barrier needed to actually run a
// negotiation over a session: encode/decode meta-protocol frames, queue
// them, drive the negotiation loop to completion, then block both sides on
// a code-generation acknowledgement before application traffic is allowed.
package metaprotocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/negotiation"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/transport/frame"
)

// Action names the five meta-protocol message kinds. Only protocolNegotiation
// and codeGeneration drive state; the reserved three are parsed and logged
// without acting on them.
type Action string

const (
	ActionProtocolNegotiation Action = "protocolNegotiation"
	ActionCodeGeneration      Action = "codeGeneration"
	ActionTestCases           Action = "testCasesNegotiation"
	ActionFixError            Action = "fixErrorNegotiation"
	ActionNaturalLanguage     Action = "naturalLanguageNegotiation"
)

// CodeGenStatus is the value carried on a codeGeneration message.
type CodeGenStatus string

const (
	CodeGenGenerated CodeGenStatus = "generated"
	CodeGenError     CodeGenStatus = "error"
)

// actionProbe pulls just the action out of an incoming meta frame so the
// right full decode can be chosen.
type actionProbe struct {
	Action Action `json:"action"`
}

// negotiationFrame is the protocolNegotiation message as it appears on the
// wire, one per negotiation turn.
type negotiationFrame struct {
	Action              Action `json:"action"`
	SequenceID          int    `json:"sequenceId"`
	CandidateProtocols  string `json:"candidateProtocols"`
	ModificationSummary string `json:"modificationSummary,omitempty"`
	Status              string `json:"status"`
}

// codeGenFrame is the codeGeneration message on the wire.
type codeGenFrame struct {
	Action Action        `json:"action"`
	Status CodeGenStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// wireStatus maps a negotiator status onto the three values the wire
// schema admits. PROPOSING travels as "negotiating": from the peer's point
// of view an initial proposal is just the first negotiating turn.
func wireStatus(s negotiation.Status) string {
	switch s {
	case negotiation.StatusAccepted:
		return "accepted"
	case negotiation.StatusRejected:
		return "rejected"
	default:
		return "negotiating"
	}
}

func statusFromWire(s string) negotiation.Status {
	switch s {
	case "accepted":
		return negotiation.StatusAccepted
	case "rejected":
		return negotiation.StatusRejected
	default:
		return negotiation.StatusNegotiating
	}
}

// Sender delivers an already-framed meta-protocol payload to the peer.
type Sender func(ctx context.Context, payload []byte) error

// NegotiationTimeout bounds how long one side waits for each inbound
// negotiation message; the round cap bounds the exchange as a whole.
const NegotiationTimeout = 60 * time.Second

// CodeGenerationTimeout bounds how long one side waits for the peer's
// codeGeneration acknowledgement after ACCEPTED.
const CodeGenerationTimeout = 60 * time.Second

// MetaProtocol dispatches received meta-protocol frames and drives the
// negotiation/code-generation handshake to completion on this side.
type MetaProtocol struct {
	send Sender
	neg  *negotiation.Negotiator

	mu                  sync.Mutex
	negotiationMessages []negotiation.Result
	negotiationSignal   chan struct{}

	codeGenMessages []codeGenFrame
	codeGenSignal   chan struct{}
}

// New creates a MetaProtocol bound to a Negotiator and a Sender used to
// push frames back out to the peer.
func New(neg *negotiation.Negotiator, send Sender) *MetaProtocol {
	return &MetaProtocol{
		neg:               neg,
		send:              send,
		negotiationSignal: make(chan struct{}, 1),
		codeGenSignal:     make(chan struct{}, 1),
	}
}

// HandleMetaFrame is the frame.MetaHandler this MetaProtocol exposes to the
// demultiplexer. Decode errors and unrecognized actions are logged and
// dropped without tearing down the session.
func (m *MetaProtocol) HandleMetaFrame(ctx context.Context, payload []byte) error {
	var probe actionProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		logger.Warn("dropping undecodable meta-protocol frame", logger.Error(err))
		return nil
	}

	switch probe.Action {
	case ActionProtocolNegotiation:
		return m.handleNegotiationMessage(payload)
	case ActionCodeGeneration:
		return m.handleCodeGenMessage(payload)
	case ActionTestCases, ActionFixError, ActionNaturalLanguage:
		logger.Debug("meta-protocol action not acted upon", logger.String("action", string(probe.Action)))
		return nil
	default:
		logger.Warn("unknown meta-protocol action, dropping", logger.String("action", string(probe.Action)))
		return nil
	}
}

func (m *MetaProtocol) handleNegotiationMessage(payload []byte) error {
	var f negotiationFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		logger.Warn("dropping undecodable negotiation message", logger.Error(err))
		return nil
	}
	result := negotiation.Result{
		Status:              statusFromWire(f.Status),
		CandidateProtocol:   f.CandidateProtocols,
		Round:               f.SequenceID,
		ModificationSummary: f.ModificationSummary,
	}
	m.mu.Lock()
	m.negotiationMessages = append(m.negotiationMessages, result)
	m.mu.Unlock()
	m.signal(m.negotiationSignal)
	return nil
}

func (m *MetaProtocol) handleCodeGenMessage(payload []byte) error {
	var f codeGenFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		logger.Warn("dropping undecodable code-generation message", logger.Error(err))
		return nil
	}
	m.mu.Lock()
	m.codeGenMessages = append(m.codeGenMessages, f)
	m.mu.Unlock()
	m.signal(m.codeGenSignal)
	return nil
}

func (m *MetaProtocol) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *MetaProtocol) popNegotiationMessage() (negotiation.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.negotiationMessages) == 0 {
		return negotiation.Result{}, false
	}
	msg := m.negotiationMessages[0]
	m.negotiationMessages = m.negotiationMessages[1:]
	return msg, true
}

func (m *MetaProtocol) sendNegotiationResult(ctx context.Context, result negotiation.Result) error {
	return m.sendFrame(ctx, negotiationFrame{
		Action:              ActionProtocolNegotiation,
		SequenceID:          result.Round,
		CandidateProtocols:  result.CandidateProtocol,
		ModificationSummary: result.ModificationSummary,
		Status:              wireStatus(result.Status),
	})
}

func (m *MetaProtocol) sendFrame(ctx context.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("metaprotocol: marshal meta frame: %w", err)
	}
	return m.send(ctx, frame.Encode(frame.Meta, payload))
}

// NegotiateProtocol runs the requester side of a negotiation: send the
// initial proposal, then repeatedly evaluate whatever the provider sends
// back until ACCEPTED or REJECTED.
func (m *MetaProtocol) NegotiateProtocol(ctx context.Context) (*negotiation.Result, error) {
	initial, err := m.neg.GenerateInitialProposal(ctx)
	if err != nil {
		return nil, fmt.Errorf("metaprotocol: generate initial proposal: %w", err)
	}
	if err := m.sendNegotiationResult(ctx, *initial); err != nil {
		return nil, err
	}
	return m.processNegotiationMessages(ctx)
}

// WaitRemoteNegotiation runs the provider side: wait for the requester's
// proposals and evaluate each one until ACCEPTED or REJECTED.
func (m *MetaProtocol) WaitRemoteNegotiation(ctx context.Context) (*negotiation.Result, error) {
	return m.processNegotiationMessages(ctx)
}

func (m *MetaProtocol) processNegotiationMessages(ctx context.Context) (*negotiation.Result, error) {
	for {
		incoming, ok := m.popNegotiationMessage()
		if !ok {
			waitCtx, cancel := context.WithTimeout(ctx, NegotiationTimeout)
			select {
			case <-waitCtx.Done():
				err := waitCtx.Err()
				cancel()
				return nil, fmt.Errorf("metaprotocol: negotiation timed out waiting for peer: %w", err)
			case <-m.negotiationSignal:
				cancel()
				continue
			}
		}

		if incoming.Status == negotiation.StatusRejected {
			// The peer has already terminated; there is nothing left to
			// evaluate and nobody listening for a reply.
			return &negotiation.Result{
				Status:              negotiation.StatusRejected,
				Round:               incoming.Round,
				ModificationSummary: incoming.ModificationSummary,
			}, nil
		}

		result, err := m.neg.EvaluateProposal(ctx, incoming)
		if err != nil {
			return nil, fmt.Errorf("metaprotocol: evaluate proposal: %w", err)
		}

		switch result.Status {
		case negotiation.StatusAccepted, negotiation.StatusRejected:
			if err := m.sendNegotiationResult(ctx, *result); err != nil {
				return nil, err
			}
			return result, nil
		default: // NEGOTIATING
			if err := m.sendNegotiationResult(ctx, *result); err != nil {
				return nil, err
			}
		}
	}
}

// NotifyCodeGeneration tells the peer this side has finished (or failed)
// generating its implementation artifacts.
func (m *MetaProtocol) NotifyCodeGeneration(ctx context.Context, status CodeGenStatus, errMsg string) error {
	return m.sendFrame(ctx, codeGenFrame{Action: ActionCodeGeneration, Status: status, Error: errMsg})
}

// WaitForCodeGeneration blocks until the peer's codeGeneration message has
// arrived, or CodeGenerationTimeout elapses.
func (m *MetaProtocol) WaitForCodeGeneration(ctx context.Context) (CodeGenStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, CodeGenerationTimeout)
	defer cancel()

	for {
		m.mu.Lock()
		if len(m.codeGenMessages) > 0 {
			msg := m.codeGenMessages[0]
			m.codeGenMessages = m.codeGenMessages[1:]
			m.mu.Unlock()
			return msg.Status, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("metaprotocol: code generation wait timed out: %w", ctx.Err())
		case <-m.codeGenSignal:
		}
	}
}
