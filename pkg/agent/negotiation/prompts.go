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

import "fmt"

// documentGrammar is appended to every prompt that asks the model for a
// candidate protocol document. A document that violates any of these rules
// is not a valid proposal, so they are restated on every call rather than
// trusted to survive a long conversation.
const documentGrammar = `Every candidate protocol document must follow these rules:
- It is markdown with exactly these sections: Requirements, Protocol Flow,
  Data Format, Error Handling.
- All JSON message bodies conform to RFC 8259; all JSON Schemas use draft
  2020-12.
- All field names are camelCase.
- Every response message carries an integer "code" field using HTTP status
  semantics (200 success, 400 malformed input, 500 handler failure, 504
  timeout).
- When request/response correlation is needed, messages carry "messageType"
  and "messageId" fields, and a response echoes the request's messageId.`

const initialProposalSystemPrompt = `You are designing an application-level protocol document for two
autonomous agents to communicate over. Produce a single JSON object with
exactly these fields: "status" (always "PROPOSING" for an initial
proposal), "candidateProtocol" (a full protocol document: message types, a
JSON Schema for each payload, and the interaction sequence), and "round"
(the round number supplied to you). The protocol you propose must satisfy
the requester's stated requirement, input description, and output
description.

%s

Do not include any text outside the JSON object.`

func buildInitialProposalPrompt(requirement, inputDesc, outputDesc string, round int) (string, string) {
	sys := fmt.Sprintf(initialProposalSystemPrompt, documentGrammar)
	user := fmt.Sprintf(
		"Requirement: %s\nInput description: %s\nOutput description: %s\nRound: %d",
		requirement, inputDesc, outputDesc, round,
	)
	return sys, user
}

const requesterEvaluationSystemPrompt = `You are the requester side of a protocol negotiation. You will be shown
the provider's latest candidate protocol document alongside your own
original requirement, input description, and output description. Decide
one of three outcomes and respond with a single JSON object with fields
"status", "candidateProtocol", "round", and optional
"modificationSummary":

- "ACCEPTED": the candidate protocol fully satisfies your requirement as
  proposed. Echo the candidate protocol back unchanged.
- "NEGOTIATING": the candidate protocol is close but needs changes. Return
  a revised full candidateProtocol and describe what you changed in
  "modificationSummary".
- "REJECTED": the candidate protocol cannot be made to satisfy your
  requirement. Explain why in "modificationSummary".

%s

Always increment "round" by 2 from the round you were given, so that your
rounds and the provider's rounds never collide. Do not include any text
outside the JSON object.`

func buildRequesterEvaluationPrompt(requirement, inputDesc, outputDesc string, incoming Result) (string, string) {
	sys := fmt.Sprintf(requesterEvaluationSystemPrompt, documentGrammar)
	user := fmt.Sprintf(
		"Requirement: %s\nInput description: %s\nOutput description: %s\n\nProvider's candidate protocol (round %d):\n%s",
		requirement, inputDesc, outputDesc, incoming.Round, incoming.CandidateProtocol,
	)
	return sys, user
}

const providerEvaluationSystemPrompt = `You are the provider side of a protocol negotiation. You will be shown
the requester's latest candidate protocol document. Before deciding,
you may call the get_capability_info tool as many times as you need to
check whether your capability can satisfy a detail of the proposal.
Once you have enough information, respond with a single JSON object
(no surrounding text) with fields "status", "candidateProtocol",
"round", and optional "modificationSummary":

- "ACCEPTED": you can implement the candidate protocol exactly as given.
- "NEGOTIATING": you can implement it with changes. Return a revised full
  candidateProtocol and describe your changes in "modificationSummary".
- "REJECTED": you cannot implement any version of it. Explain why in
  "modificationSummary".

%s

Always increment "round" by 2 from the round you were given.`

func buildProviderEvaluationPrompt(incoming Result, capabilityInfoHistory []string) (string, string) {
	sys := fmt.Sprintf(providerEvaluationSystemPrompt, documentGrammar)
	user := fmt.Sprintf(
		"Requester's candidate protocol (round %d):\n%s",
		incoming.Round, incoming.CandidateProtocol,
	)
	if len(capabilityInfoHistory) > 0 {
		user += "\n\nCapability information gathered so far in this negotiation:"
		for _, info := range capabilityInfoHistory {
			user += "\n- " + info
		}
	}
	return sys, user
}

// getCapabilityInfoToolName is the one tool the provider-side evaluation
// loop is allowed to call.
const getCapabilityInfoToolName = "get_capability_info"

func getCapabilityInfoToolParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"description": "what aspect of the capability to ask about",
			},
		},
		"required": []string{"topic"},
	}
}
