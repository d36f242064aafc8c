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
	// SignatureVerifications counts Slave-side LTK signature checks,
	// spec §7's VERIFICATION_ERROR / §8 invariant 1.
	SignatureVerifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "signatures_total",
			Help:      "Total number of LTK signature verifications, by result",
		},
		[]string{"result"}, // valid, invalid
	)

	// EnvelopeIntegrityChecks counts Slave-side STK envelope AEAD checks,
	// spec §7's INTEGRITY_ERROR.
	EnvelopeIntegrityChecks = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "envelopes_total",
			Help:      "Total number of STK envelope integrity checks, by result",
		},
		[]string{"result"}, // valid, invalid
	)

	// StkPublications counts successful republications to MQTT.
	StkPublications = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "stk_publications_total",
			Help:      "Total number of STK values republished to MQTT",
		},
	)
)
