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

import "time"

// Checker performs health checks for one agent process.
type Checker struct {
	llmBaseURL  string
	outputRoot  string
	bundleCount func() int
}

// NewChecker creates a new health checker. bundleCount reports how many
// artifact bundles the process's registry currently holds; nil means the
// count is reported as zero.
func NewChecker(llmBaseURL, outputRoot string, bundleCount func() int) *Checker {
	return &Checker{
		llmBaseURL:  llmBaseURL,
		outputRoot:  outputRoot,
		bundleCount: bundleCount,
	}
}

// CheckAll performs all health checks
func (c *Checker) CheckAll() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Status:    StatusHealthy,
		Errors:    make([]string, 0),
	}

	// Check the LLM endpoint
	status.LLMStatus = CheckLLM(c.llmBaseURL)
	if status.LLMStatus.Status != StatusHealthy {
		status.Status = status.LLMStatus.Status
		if status.LLMStatus.Error != "" {
			status.Errors = append(status.Errors, "LLM: "+status.LLMStatus.Error)
		}
	}

	// Check the artifact store
	bundles := 0
	if c.bundleCount != nil {
		bundles = c.bundleCount()
	}
	status.ArtifactsStatus = CheckArtifacts(c.outputRoot, bundles)
	if status.ArtifactsStatus.Status != StatusHealthy {
		if status.Status == StatusHealthy || status.ArtifactsStatus.Status == StatusUnhealthy {
			status.Status = status.ArtifactsStatus.Status
		}
		if status.ArtifactsStatus.Error != "" {
			status.Errors = append(status.Errors, "Artifacts: "+status.ArtifactsStatus.Error)
		}
	}

	// Check system
	status.SystemStatus = CheckSystem()
	if status.SystemStatus.Status != StatusHealthy {
		if status.Status == StatusHealthy {
			status.Status = status.SystemStatus.Status
		} else if status.SystemStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
		if status.SystemStatus.Error != "" {
			status.Errors = append(status.Errors, "System: "+status.SystemStatus.Error)
		}
	}

	return status
}
