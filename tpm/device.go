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

package tpm

import (
	"os"

	"github.com/google/go-tpm/tpm2/transport"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// DevicePaths lists the Linux TPM character devices to probe, in order
// of preference: the resource manager (shared, multi-process safe)
// ahead of the raw device.
var DevicePaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// OpenDevice opens the first accessible path in DevicePaths and returns
// it wrapped as a Gateway transport. Daemons call this directly instead
// of the simulator transport used in tests.
func OpenDevice() (transport.TPMCloser, error) {
	for _, path := range DevicePaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t, err := transport.OpenTPM(path)
		if err != nil {
			continue
		}
		return t, nil
	}
	return nil, kerr.New(kerr.CodeProvisioning, "no accessible TPM device found", nil)
}
