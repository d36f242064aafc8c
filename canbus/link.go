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

package canbus

import (
	"encoding/binary"

	"github.com/sage-x-project/kmngr/internal/kerr"
	"github.com/sage-x-project/kmngr/internal/metrics"
)

// CanLink is the send side of the fragmentation protocol: it never
// blocks waiting for an acknowledgement, matching the reference driver's
// fire-and-forget CanCommunications._send_data.
type CanLink struct {
	bus Bus
}

// NewCanLink wraps bus as a CanLink.
func NewCanLink(bus Bus) *CanLink {
	return &CanLink{bus: bus}
}

// SendPayload fragments payload into 8-byte data frames on channelID,
// preceded by a start frame carrying the little-endian fragment count
// and followed by an empty-payload end sentinel. channel labels the
// logical stream (ltk_pub, ltk_sig, stk) for metrics only; it has no
// effect on wire framing.
func (l *CanLink) SendPayload(channelID uint32, channel string, payload []byte) error {
	n := len(payload) / MaxFrameData
	if len(payload)%MaxFrameData != 0 {
		n++
	}

	count := make([]byte, 2)
	binary.LittleEndian.PutUint16(count, uint16(n))
	if err := l.bus.Send(Frame{ID: channelID, Data: count}); err != nil {
		return kerr.New(kerr.CodeIO, "send start frame", err)
	}

	for i := 0; i < len(payload); i += MaxFrameData {
		end := i + MaxFrameData
		if end > len(payload) {
			end = len(payload)
		}
		if err := l.bus.Send(Frame{ID: channelID, Data: payload[i:end]}); err != nil {
			return kerr.New(kerr.CodeIO, "send data frame", err)
		}
	}

	if err := l.bus.Send(Frame{ID: channelID, Data: nil}); err != nil {
		return kerr.New(kerr.CodeIO, "send end sentinel", err)
	}

	// start frame + n data frames + end sentinel
	metrics.FramesSent.WithLabelValues(channel).Add(float64(n + 2))
	return nil
}
