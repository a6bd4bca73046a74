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

	"github.com/xeipuuv/gojsonschema"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
)

// Side names which half of the artifact bundle a descriptor or call plan
// is being produced for.
type Side string

const (
	SideRequester Side = "requester"
	SideProvider  Side = "provider"
)

// FunctionName is the fixed entry-point name the registry looks for inside
// a *_description.json file.
func (s Side) FunctionName() string {
	if s == SideProvider {
		return "setProtocolCallback"
	}
	return "sendRequest"
}

// InterfaceDescriptor is the JSON-Schema-style description of a single
// public entry point: the requester's sendRequest(input) -> result, or the
// provider's setProtocolCallback(callback). For a provider descriptor, the
// callback's own signature is nested at Parameters["properties"]["callback"].
type InterfaceDescriptor struct {
	FunctionName string         `json:"functionName"`
	ModuleName   string         `json:"moduleName"`
	Parameters   map[string]any `json:"parameters"`
	Returns      map[string]any `json:"returns"`
}

// schemaDraft is the JSON-Schema dialect every descriptor and protocol
// document schema is required to declare.
const schemaDraft = "https://json-schema.org/draft/2020-12/schema"

const describeSystemPrompt = `You produce a JSON-Schema-style interface descriptor for a single callable
entry point of a negotiated application protocol. Respond with a single
JSON object (no surrounding text) with fields:
- "functionName": the exact string given to you.
- "moduleName": a short, filesystem-safe, camelCase or kebab-case name
  summarizing the protocol's purpose.
- "parameters": a JSON-Schema (draft 2020-12, "$schema" set to
  %q) object describing the function's input.
- "returns": a JSON-Schema object describing the function's output,
  whose properties must include an integer "code" field using HTTP
  status semantics.
Field names in both schemas must be camelCase. Do not include any text
outside the JSON object.`

// Describe runs the code generator's first step: ask the LLM
// to describe the single public entry point this side of the protocol
// exposes, as a JSON-Schema-style InterfaceDescriptor.
func Describe(ctx context.Context, client llm.Client, protocolDocument string, side Side) (*InterfaceDescriptor, error) {
	sys := fmt.Sprintf(describeSystemPrompt, schemaDraft)
	user := fmt.Sprintf(
		"Function name: %s\n\nAgreed protocol document:\n%s",
		side.FunctionName(), protocolDocument,
	)

	var descriptor InterfaceDescriptor
	if err := client.ChatJSON(ctx, sys, user, &descriptor); err != nil {
		return nil, fmt.Errorf("codegen: describe %s: %w", side, err)
	}
	descriptor.FunctionName = side.FunctionName()

	if err := validateDescriptor(descriptor); err != nil {
		return nil, fmt.Errorf("codegen: describe %s: %w", side, err)
	}
	return &descriptor, nil
}

func validateDescriptor(d InterfaceDescriptor) error {
	if d.ModuleName == "" {
		return logger.NewSageError(logger.ErrCodeValidationError, "descriptor is missing moduleName", nil)
	}
	if d.Parameters == nil {
		return logger.NewSageError(logger.ErrCodeValidationError, "descriptor is missing parameters schema", nil)
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Parameters)); err != nil {
		return logger.NewSageError(logger.ErrCodeValidationError, "parameters is not a valid JSON-Schema", err)
	}
	if d.Returns != nil {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Returns)); err != nil {
			return logger.NewSageError(logger.ErrCodeValidationError, "returns is not a valid JSON-Schema", err)
		}
	}
	return nil
}

// CallbackParameterSchema extracts the nested callback signature from a
// provider descriptor by descending to parameters.properties.callback.
func CallbackParameterSchema(d InterfaceDescriptor) (map[string]any, error) {
	props, ok := d.Parameters["properties"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codegen: provider descriptor has no parameters.properties")
	}
	callback, ok := props["callback"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("codegen: provider descriptor has no parameters.properties.callback")
	}
	return callback, nil
}
