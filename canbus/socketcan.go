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
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// canFrameSize is sizeof(struct can_frame): 4-byte ID, 1-byte length, 3
// bytes padding, 8 bytes data.
const canFrameSize = 16

// canEFFFlag marks an arbitration ID as extended (29-bit), set on every
// frame per spec §4.5.
const canEFFFlag = 0x80000000

// SocketCANBus is a Bus backed by a Linux SocketCAN raw socket
// (AF_CAN/SOCK_RAW/CAN_RAW), following python-can's socketcan backend
// used by the reference CanCommunications driver. No third-party CAN
// library appears anywhere in the example corpus, so this is built
// directly on golang.org/x/sys/unix, already a transitive dependency of
// the pack.
type SocketCANBus struct {
	fd int
}

// OpenSocketCAN binds a raw CAN socket to the named interface (e.g.
// "vcan0"), mirroring can.interface.Bus(bustype="socketcan", channel=...).
func OpenSocketCAN(ifaceName string) (*SocketCANBus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, kerr.New(kerr.CodeIO, "open CAN socket", err)
	}

	iface, err := interfaceIndex(ifaceName)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	addr := &unix.SockaddrCAN{Ifindex: iface}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, kerr.New(kerr.CodeIO, "bind CAN socket", err)
	}

	return &SocketCANBus{fd: fd}, nil
}

func interfaceIndex(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, kerr.New(kerr.CodeConfiguration, "resolve CAN interface", err)
	}
	return ifi.Index, nil
}

func (s *SocketCANBus) Send(f Frame) error {
	buf := make([]byte, canFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.ID|canEFFFlag)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)

	if _, err := unix.Write(s.fd, buf); err != nil {
		return kerr.New(kerr.CodeIO, "write CAN frame", err)
	}
	return nil
}

func (s *SocketCANBus) Recv(timeout time.Duration) (Frame, bool, error) {
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return Frame{}, false, kerr.New(kerr.CodeIO, "set recv timeout", err)
		}
	}

	buf := make([]byte, canFrameSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return Frame{}, false, nil
		}
		return Frame{}, false, kerr.New(kerr.CodeIO, "read CAN frame", err)
	}
	if n < canFrameSize {
		return Frame{}, false, kerr.New(kerr.CodeMalformed, "short CAN frame read", nil)
	}

	id := binary.LittleEndian.Uint32(buf[0:4]) &^ canEFFFlag
	length := int(buf[4])
	if length > MaxFrameData {
		length = MaxFrameData
	}
	return Frame{ID: id, Data: append([]byte(nil), buf[8:8+length]...)}, true, nil
}

func (s *SocketCANBus) Close() error {
	return unix.Close(s.fd)
}
