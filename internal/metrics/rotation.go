// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LtkRotations counts Master LTK (re-)issuance attempts, labeled
	// fresh (first generation) or reexport (late-joining-Slave retransmit).
	LtkRotations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "ltk_total",
			Help:      "Total number of LTK generations and re-exports, by kind and status",
		},
		[]string{"kind", "status"}, // kind: fresh/reexport, status: success/failure
	)

	// StkRotations counts Master STK rotations.
	StkRotations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "stk_total",
			Help:      "Total number of STK rotations, by status",
		},
		[]string{"status"}, // success, failure
	)

	// RotationDuration tracks how long one LTK or STK rotation step takes,
	// from TPM operation through CAN transmission.
	RotationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "duration_seconds",
			Help:      "Duration of one rotation step in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to 3.3s
		},
		[]string{"key"}, // ltk, stk
	)

	// StkIndex mirrors the Master's current stk_idx counter as a gauge, so
	// the strictly-increasing invariant (spec §8 invariant 4) is
	// observable externally without instrumenting the orchestrator's tests.
	StkIndex = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "stk_index",
			Help:      "Current Master stk_idx value",
		},
	)
)
