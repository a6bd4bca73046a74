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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLLM(t *testing.T) {
	t.Run("ReachableEndpointIsHealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/models", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		h := CheckLLM(srv.URL + "/v1")
		assert.True(t, h.Reachable)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.NotEmpty(t, h.Latency)
	})

	t.Run("AuthErrorStillCountsAsReachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		h := CheckLLM(srv.URL)
		assert.True(t, h.Reachable)
	})

	t.Run("UnconfiguredEndpointIsUnhealthy", func(t *testing.T) {
		h := CheckLLM("")
		assert.False(t, h.Reachable)
		assert.Equal(t, StatusUnhealthy, h.Status)
	})

	t.Run("UnreachableEndpointIsUnhealthy", func(t *testing.T) {
		h := CheckLLM("http://127.0.0.1:1")
		assert.False(t, h.Reachable)
		assert.Equal(t, StatusUnhealthy, h.Status)
	})
}

func TestCheckArtifacts(t *testing.T) {
	t.Run("WritableRootIsHealthy", func(t *testing.T) {
		h := CheckArtifacts(t.TempDir(), 3)
		assert.True(t, h.Writable)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.Equal(t, 3, h.BundlesLoaded)
	})

	t.Run("UnconfiguredRootIsUnhealthy", func(t *testing.T) {
		h := CheckArtifacts("", 0)
		assert.False(t, h.Writable)
		assert.Equal(t, StatusUnhealthy, h.Status)
	})
}

func TestCheckSystemReportsResources(t *testing.T) {
	h := CheckSystem()
	require.NotNil(t, h)
	assert.Greater(t, h.GoRoutines, 0)
}

func TestCheckAllAggregatesErrors(t *testing.T) {
	checker := NewChecker("http://127.0.0.1:1", t.TempDir(), func() int { return 1 })
	status := checker.CheckAll()

	require.NotNil(t, status.LLMStatus)
	require.NotNil(t, status.ArtifactsStatus)
	require.NotNil(t, status.SystemStatus)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.NotEmpty(t, status.Errors)
	assert.Equal(t, 1, status.ArtifactsStatus.BundlesLoaded)
}
