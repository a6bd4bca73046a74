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

// Package codegen turns an accepted protocol document into a pair of
// artifact bundles (requester and provider) that the registry can load and
// execute. Rather than asking the LLM to emit compilable source and
// dynamically loading it, the "implement" step asks for a small JSON call
// plan that a fixed interpreter (see the planrun subpackage) executes.
package codegen

import "fmt"

// FieldMapping describes how one field on the wire maps to a field in the
// local input/output map a RequesterBase/ProviderBase exchanges.
type FieldMapping struct {
	WireName  string `json:"wireName"`
	LocalName string `json:"localName"`
	Required  bool   `json:"required"`
}

// CallPlan is the declarative program the LLM's "implement" step produces.
// It says nothing about control flow: it only maps the agreed protocol's
// wire message to and from the local input/output map, which is all a
// RequesterBase/ProviderBase implementation actually needs to do.
type CallPlan struct {
	ModuleName     string         `json:"moduleName"`
	MessageType    string         `json:"messageType"`
	RequestFields  []FieldMapping `json:"requestFields"`
	ResponseFields []FieldMapping `json:"responseFields"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
	SuccessCode    int            `json:"successCode"`
}

// Validate checks the structural invariants a call plan must satisfy
// before planrun will execute it.
func (p CallPlan) Validate() error {
	if p.ModuleName == "" {
		return fmt.Errorf("callplan: moduleName is required")
	}
	if p.MessageType == "" {
		return fmt.Errorf("callplan: messageType is required")
	}
	if len(p.RequestFields) == 0 {
		return fmt.Errorf("callplan: requestFields must not be empty")
	}
	seen := make(map[string]bool, len(p.RequestFields))
	for _, f := range p.RequestFields {
		if f.WireName == "" || f.LocalName == "" {
			return fmt.Errorf("callplan: requestFields entries must set wireName and localName")
		}
		if seen[f.WireName] {
			return fmt.Errorf("callplan: duplicate wireName %q in requestFields", f.WireName)
		}
		seen[f.WireName] = true
	}
	seen = make(map[string]bool, len(p.ResponseFields))
	for _, f := range p.ResponseFields {
		if f.WireName == "" || f.LocalName == "" {
			return fmt.Errorf("callplan: responseFields entries must set wireName and localName")
		}
		if seen[f.WireName] {
			return fmt.Errorf("callplan: duplicate wireName %q in responseFields", f.WireName)
		}
		seen[f.WireName] = true
	}
	if p.TimeoutSeconds < 0 {
		return fmt.Errorf("callplan: timeoutSeconds must not be negative")
	}
	return nil
}
