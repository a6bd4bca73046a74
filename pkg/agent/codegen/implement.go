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

package codegen

import (
	"context"
	"fmt"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/protocolbase"
)

// implementSystemPrompt asks for the JSON call-plan DSL the planrun
// interpreter executes (see CallPlan) rather than compilable source. The
// constraints are the same ones a generated implementation would carry:
// explicit typed fields, a default 15-second request timeout, and
// parameter validation.
const implementSystemPrompt = `You turn an agreed application protocol document and its interface
descriptor into a call plan: a JSON object telling a fixed interpreter how
to map the wire message to and from a local input/output map. Respond with
a single JSON object (no surrounding text) with fields:
- "moduleName": copy from the descriptor.
- "messageType": the protocol document's request message type name.
- "requestFields": array of {"wireName","localName","required"} mapping
  each input field's wire name (as it appears on the wire per the
  protocol document) to the local name used in the input map.
- "responseFields": array of {"wireName","localName","required"} for the
  output/response fields, same shape.
- "timeoutSeconds": integer, default 15 if the document does not specify
  one.
- "successCode": integer HTTP status for a successful response, normally
  200.
Field names must be camelCase, matching the descriptor and the protocol
document exactly.`

// Implement runs the code generator's second step: ask the
// LLM for the call plan that will drive this side's RequesterBase or
// ProviderBase implementation at runtime.
func Implement(ctx context.Context, client llm.Client, protocolDocument string, descriptor InterfaceDescriptor) (*CallPlan, error) {
	user := fmt.Sprintf(
		"Interface descriptor:\nmoduleName=%s\nfunctionName=%s\n\nAgreed protocol document:\n%s",
		descriptor.ModuleName, descriptor.FunctionName, protocolDocument,
	)

	var plan CallPlan
	if err := client.ChatJSON(ctx, implementSystemPrompt, user, &plan); err != nil {
		return nil, fmt.Errorf("codegen: implement: %w", err)
	}
	if plan.ModuleName == "" {
		plan.ModuleName = descriptor.ModuleName
	}
	if plan.TimeoutSeconds == 0 {
		plan.TimeoutSeconds = protocolbase.DefaultRequestTimeoutSeconds
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("codegen: implement: %w", err)
	}
	return &plan, nil
}
