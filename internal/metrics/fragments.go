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
	// FramesSent counts CAN frames emitted by CanLink, by logical channel.
	FramesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragments",
			Name:      "frames_sent_total",
			Help:      "Total number of CAN frames sent, by channel",
		},
		[]string{"channel"}, // ltk_pub, ltk_sig, stk
	)

	// ReassembliesCompleted counts FragAssembler completions.
	ReassembliesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragments",
			Name:      "reassemblies_completed_total",
			Help:      "Total number of completed fragment reassemblies, by channel",
		},
		[]string{"channel"},
	)

	// FragmentErrors counts malformed-frame conditions spec §4.4/§7 call
	// out in the start frame of a new sequence: an invalid length field,
	// or a fragment count above 255.
	FragmentErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fragments",
			Name:      "errors_total",
			Help:      "Total number of malformed-frame conditions detected, by reason",
		},
		[]string{"reason"}, // invalid_length, count_too_large
	)
)
