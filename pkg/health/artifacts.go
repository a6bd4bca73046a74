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

package health

import (
	"fmt"
	"os"
)

// CheckArtifacts checks that the artifact output root is writable, since
// code generation persists a bundle there at the end of every successful
// negotiation. bundlesLoaded is the registry's current count, reported for
// operators rather than judged.
func CheckArtifacts(outputRoot string, bundlesLoaded int) *ArtifactsHealth {
	health := &ArtifactsHealth{
		OutputRoot:    outputRoot,
		BundlesLoaded: bundlesLoaded,
		Status:        StatusUnhealthy,
	}

	if outputRoot == "" {
		health.Error = "artifact output root not configured"
		return health
	}

	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		health.Error = fmt.Sprintf("Output root not creatable: %v", err)
		return health
	}

	probe, err := os.CreateTemp(outputRoot, ".health-probe-*")
	if err != nil {
		health.Error = fmt.Sprintf("Output root not writable: %v", err)
		return health
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	health.Writable = true
	health.Status = StatusHealthy
	return health
}
