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

// Package negotiation implements the protocol negotiator state machine: an
// LLM-driven back-and-forth between a requester (who wants a capability)
// and a provider (who can offer one) that converges on a shared protocol
// document, or explicitly rejects.
package negotiation

// Status is the negotiator's state, same on both sides of the exchange.
type Status string

const (
	StatusInit        Status = "INIT"
	StatusProposing   Status = "PROPOSING"
	StatusEvaluating  Status = "EVALUATING"
	StatusNegotiating Status = "NEGOTIATING"
	StatusAccepted    Status = "ACCEPTED"
	StatusRejected    Status = "REJECTED"
)

// Role distinguishes which side of the negotiation this Negotiator plays.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleProvider  Role = "PROVIDER"
)

// Result is what the LLM's evaluation step produces and what gets sent to
// the peer as the next negotiation message.
type Result struct {
	Status              Status `json:"status"`
	CandidateProtocol   string `json:"candidateProtocol"`
	Round               int    `json:"round"`
	ModificationSummary string `json:"modificationSummary,omitempty"`
}

// HistoryEntry records one round of the negotiation, kept so that the
// final ACCEPTED result can fall back to this side's own last candidate
// protocol rather than whatever the peer echoed back.
type HistoryEntry struct {
	Round             int
	Status            Status
	CandidateProtocol string
}

// DefaultMaxRounds bounds how many rounds a negotiation may run: a
// response past this round is REJECTED by the negotiator without
// consulting the model.
const DefaultMaxRounds = 10
