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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm/llmtest"
)

func TestImplementFillsModuleNameFromDescriptor(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			CallPlan{
				MessageType:    "echo.request",
				RequestFields:  []FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
				ResponseFields: []FieldMapping{{WireName: "text", LocalName: "text", Required: true}},
			},
		},
	}
	desc := InterfaceDescriptor{ModuleName: "echoProtocol", FunctionName: "sendRequest"}

	plan, err := Implement(context.Background(), fake, "protocol doc", desc)
	require.NoError(t, err)
	assert.Equal(t, "echoProtocol", plan.ModuleName)
}

func TestImplementRejectsInvalidPlan(t *testing.T) {
	fake := &llmtest.FakeClient{
		ChatJSONResponses: []any{
			CallPlan{MessageType: "echo.request"},
		},
	}
	desc := InterfaceDescriptor{ModuleName: "echoProtocol"}

	_, err := Implement(context.Background(), fake, "protocol doc", desc)
	require.Error(t, err)
}
