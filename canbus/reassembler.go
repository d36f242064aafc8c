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
	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/internal/metrics"
)

// LtkReassembler owns the two FragAssemblers that carry the wrapped LTK
// public blob and its signature. When pub completes its bytes are
// latched; when sig completes, both latched buffers are delivered
// together and cleared. A new pub arriving before a sig overwrites the
// pending one, matching the reference LtkProc/KeyFragMngr pair.
type LtkReassembler struct {
	pubID, sigID uint32
	pub, sig     *FragAssembler

	pubData []byte
	sigData []byte
}

// NewLtkReassembler returns a reassembler for the given pub/sig channel
// arbitration IDs.
func NewLtkReassembler(pubID, sigID uint32, log logger.Logger) *LtkReassembler {
	return &LtkReassembler{
		pubID: pubID,
		sigID: sigID,
		pub:   NewFragAssembler(pubID, log),
		sig:   NewFragAssembler(sigID, log),
	}
}

// OnFrame feeds a frame addressed to either sub-channel. It returns
// (pubWrapped, signature, true) exactly when a signature completes with
// a pub already latched.
func (r *LtkReassembler) OnFrame(frame Frame) (pubWrapped, signature []byte, complete bool) {
	switch frame.ID {
	case r.pubID:
		if payload, done := r.pub.OnFrame(frame); done {
			r.pubData = payload
		}
	case r.sigID:
		if payload, done := r.sig.OnFrame(frame); done {
			r.sigData = payload
			if r.pubData != nil {
				pubWrapped, signature = r.pubData, r.sigData
				r.pubData, r.sigData = nil, nil
				metrics.ReassembliesCompleted.WithLabelValues("ltk").Inc()
				return pubWrapped, signature, true
			}
		}
	}
	return nil, nil, false
}

// StkReassembler owns the single FragAssembler for the STK envelope
// channel.
type StkReassembler struct {
	channelID uint32
	frag      *FragAssembler
}

// NewStkReassembler returns a reassembler for channelID.
func NewStkReassembler(channelID uint32, log logger.Logger) *StkReassembler {
	return &StkReassembler{channelID: channelID, frag: NewFragAssembler(channelID, log)}
}

// OnFrame feeds a frame on the STK channel, returning the envelope bytes
// and true once a full sequence completes.
func (r *StkReassembler) OnFrame(frame Frame) ([]byte, bool) {
	if frame.ID != r.channelID {
		return nil, false
	}
	payload, complete := r.frag.OnFrame(frame)
	if complete {
		metrics.ReassembliesCompleted.WithLabelValues("stk").Inc()
	}
	return payload, complete
}
