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

	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/internal/metrics"
)

type fragState int

const (
	stateIdle fragState = iota
	stateCollecting
)

// FragAssembler reassembles the fragments of one logical payload carried
// on a single arbitration ID: a start frame (2-byte little-endian
// fragment count N), N data frames, and an empty-payload end sentinel.
// It is not safe for concurrent use; callers feed it one frame at a
// time (the Slave's receive loop does so from a single goroutine).
type FragAssembler struct {
	channelID uint32
	log       logger.Logger

	state fragState
	want  int
	pos   int
	buf   [][]byte
}

// NewFragAssembler returns an assembler for frames on channelID.
func NewFragAssembler(channelID uint32, log logger.Logger) *FragAssembler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &FragAssembler{channelID: channelID, log: log, state: stateIdle}
}

// OnFrame feeds one frame into the state machine. It returns (payload,
// true) exactly when the frame completes a sequence (the
// end-sentinel after N data frames has arrived); payload is the
// concatenation of all buffered fragments in arrival order.
func (f *FragAssembler) OnFrame(frame Frame) (payload []byte, complete bool) {
	switch f.state {
	case stateIdle:
		f.beginSequence(frame)
		return nil, false

	case stateCollecting:
		if f.pos > f.want {
			// End-sentinel or any frame after the data window completes
			// the sequence and returns to IDLE.
			payload = concat(f.buf)
			f.reset()
			return payload, true
		}

		f.buf = append(f.buf, append([]byte(nil), frame.Data...))
		f.pos++
		return nil, false
	}
	return nil, false
}

func (f *FragAssembler) beginSequence(frame Frame) {
	if len(frame.Data) != 2 {
		f.log.Warn("fragassembler: start frame has invalid length field",
			logger.Any("channel_id", f.channelID),
			logger.Int("length", len(frame.Data)))
		metrics.FragmentErrors.WithLabelValues("invalid_length").Inc()
	}

	var n int
	if len(frame.Data) >= 2 {
		n = int(binary.LittleEndian.Uint16(frame.Data[:2]))
	} else if len(frame.Data) == 1 {
		n = int(frame.Data[0])
	}

	if n > 255 {
		f.log.Warn("fragassembler: large fragment count",
			logger.Any("channel_id", f.channelID), logger.Int("count", n))
		metrics.FragmentErrors.WithLabelValues("count_too_large").Inc()
	}

	f.want = n
	f.pos = 1
	f.buf = make([][]byte, 0, n)
	f.state = stateCollecting
}

func (f *FragAssembler) reset() {
	f.state = stateIdle
	f.want = 0
	f.pos = 0
	f.buf = nil
}

func concat(parts [][]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
