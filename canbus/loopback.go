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
	"time"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// LoopbackBus is an in-memory Bus backed by a single buffered channel. A
// pair of LoopbackBuses created with NewLoopbackPair models the Master
// and Slave ends of a bus with no physical transport, for tests and for
// the MasterOrchestrator's unused LocalBus side channel.
type LoopbackBus struct {
	out   chan<- Frame
	in    <-chan Frame
	close func() error
}

// NewLoopbackPair returns two LoopbackBuses wired so frames sent on one
// are received on the other.
func NewLoopbackPair() (a, b *LoopbackBus) {
	ab := make(chan Frame, 256)
	ba := make(chan Frame, 256)
	closeOnce := func() func() error {
		done := false
		return func() error {
			if !done {
				done = true
				close(ab)
				close(ba)
			}
			return nil
		}
	}()
	return &LoopbackBus{out: ab, in: ba, close: closeOnce},
		&LoopbackBus{out: ba, in: ab, close: closeOnce}
}

func (l *LoopbackBus) Send(f Frame) error {
	select {
	case l.out <- f:
		return nil
	default:
		return kerr.New(kerr.CodeIO, "loopback bus full", nil)
	}
}

func (l *LoopbackBus) Recv(timeout time.Duration) (Frame, bool, error) {
	if timeout <= 0 {
		f, ok := <-l.in
		return f, ok, nil
	}
	select {
	case f, ok := <-l.in:
		return f, ok, nil
	case <-time.After(timeout):
		return Frame{}, false, nil
	}
}

func (l *LoopbackBus) Close() error {
	return l.close()
}
