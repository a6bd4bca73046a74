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
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sage-x-project/sage-metaprotocol/internal/logger"
	"github.com/sage-x-project/sage-metaprotocol/internal/metrics"
	"github.com/sage-x-project/sage-metaprotocol/pkg/agent/llm"
)

// Result is what Generate hands back to the session orchestrator: the
// module name the bundle was written under and the protocol hash it is
// keyed by in the registry.
type Result struct {
	ModuleName   string
	ProtocolHash string
}

// Generate runs the full per-side code-generation pipeline: describe both
// entry points, implement both call plans, and persist the bundle. Both the
// requester and the provider halves are generated on each side, since a
// bundle is only valid when complete and either side may later reload it
// in either role.
//
// Failures at any step are logged and returned; whatever was written so
// far stays on disk for diagnosis.
func Generate(ctx context.Context, client llm.Client, protocolName, protocolVersion, protocolDocument, outputRoot string) (*Result, error) {
	start := time.Now()
	outcome := "failure"
	defer func() {
		metrics.CodegenDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	requesterDesc, err := Describe(ctx, client, protocolDocument, SideRequester)
	if err != nil {
		logger.Warn("codegen: describe requester failed", logger.Error(err))
		return nil, err
	}
	providerDesc, err := Describe(ctx, client, protocolDocument, SideProvider)
	if err != nil {
		logger.Warn("codegen: describe provider failed", logger.Error(err))
		return nil, err
	}

	requesterPlan, err := Implement(ctx, client, protocolDocument, *requesterDesc)
	if err != nil {
		logger.Warn("codegen: implement requester failed", logger.Error(err))
		return nil, err
	}
	providerPlan, err := Implement(ctx, client, protocolDocument, *providerDesc)
	if err != nil {
		logger.Warn("codegen: implement provider failed", logger.Error(err))
		return nil, err
	}

	bundle := Bundle{
		ProtocolName:        protocolName,
		ProtocolVersion:     protocolVersion,
		ProtocolDocument:    protocolDocument,
		RequesterDescriptor: *requesterDesc,
		RequesterPlan:       *requesterPlan,
		ProviderDescriptor:  *providerDesc,
		ProviderPlan:        *providerPlan,
	}

	moduleName, err := Persist(outputRoot, bundle)
	if err != nil {
		logger.Warn("codegen: persist failed", logger.Error(err))
		return nil, err
	}

	sum := sha256.Sum256([]byte(protocolDocument))
	outcome = "success"
	return &Result{
		ModuleName:   moduleName,
		ProtocolHash: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}
