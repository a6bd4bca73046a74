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
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CheckLLM checks whether the configured LLM endpoint is reachable. An
// unreachable model endpoint means no new negotiation or code generation
// can complete, though already-negotiated sessions keep serving.
func CheckLLM(baseURL string) *LLMHealth {
	health := &LLMHealth{
		Endpoint:  baseURL,
		Reachable: false,
		Status:    StatusUnhealthy,
	}

	if baseURL == "" {
		health.Error = "LLM endpoint not configured"
		return health
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Measure endpoint latency against the models listing, which every
	// OpenAI-compatible server exposes. Any HTTP response at all counts as
	// reachable; auth errors still prove the endpoint is up.
	start := time.Now()

	url := strings.TrimSuffix(baseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		health.Error = fmt.Sprintf("Invalid endpoint: %v", err)
		return health
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		health.Error = fmt.Sprintf("Connection failed: %v", err)
		return health
	}
	_ = resp.Body.Close()

	latency := time.Since(start)
	health.Latency = latency.String()
	health.Reachable = true

	// Determine status based on latency
	if latency < 1*time.Second {
		health.Status = StatusHealthy
	} else if latency < 3*time.Second {
		health.Status = StatusDegraded
	} else {
		health.Status = StatusUnhealthy
		health.Error = fmt.Sprintf("High latency: %v", latency)
	}

	return health
}
