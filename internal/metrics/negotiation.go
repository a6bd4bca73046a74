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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric this package registers.
const namespace = "sage"

// Registry is the prometheus.Registry every metric in this package is
// registered against. Handler and StartServer serve exactly what's
// registered here, nothing from the default global registry.
var Registry = prometheus.NewRegistry()

var (
	// NegotiationRounds tracks how many evaluation rounds a protocol
	// negotiation runs before reaching a terminal status.
	NegotiationRounds = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "rounds_total",
			Help:      "Total number of negotiation rounds evaluated, by role",
		},
		[]string{"role"}, // requester, provider
	)

	// NegotiationOutcomes tracks how negotiations end.
	NegotiationOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "outcomes_total",
			Help:      "Total number of negotiations ending in each terminal status",
		},
		[]string{"role", "status"}, // accepted, rejected
	)

	// CodegenDuration tracks how long the describe/implement/persist
	// pipeline takes to produce one artifact bundle.
	CodegenDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "codegen",
			Name:      "duration_seconds",
			Help:      "Code generation pipeline duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"outcome"}, // success, failure
	)

	// RegistryBundlesLoaded tracks how many artifact bundles the registry
	// has successfully hash-verified and indexed.
	RegistryBundlesLoaded = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "bundles_loaded_total",
			Help:      "Total number of artifact bundles successfully verified and loaded",
		},
	)

	// RegistryBundlesRejected tracks bundles that failed verification,
	// by reason.
	RegistryBundlesRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "bundles_rejected_total",
			Help:      "Total number of bundle directories that failed to load",
		},
		[]string{"reason"}, // read_error, hash_mismatch, parse_error
	)
)
