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

// Package tpm implements the TPM 2.0-backed key hierarchy: a primary
// storage key, an exportable RSA signing/decryption keypair beneath it,
// loaded external public keys, and sealed symmetric-key blobs, following
// the provisioning sequence of the reference CoreTPM driver.
package tpm

import (
	"crypto/rsa"

	"github.com/google/go-tpm/tpm2"
)

// Handle is an opaque reference to a TPM object loaded into the
// transient object area. It is a thin wrapper over tpm2.TPMHandle so the
// rest of the module never imports the tpm2 package directly.
type Handle struct {
	value tpm2.TPMHandle
}

func (h Handle) valid() bool {
	return h.value != 0
}

// sealedBlob is the public/private pair TPM2_Create returns for a sealed
// data object. Both halves must be kept by the caller (KeyStore holds
// them in memory) to reload the object with TPM2_Load.
type sealedBlob struct {
	public  tpm2.TPM2BPublic
	private tpm2.TPM2BPrivate
}

// externalKey is an RSA public key loaded into the TPM as an external
// object, together with the parsed Go key used for the operation done
// host-side (signature verification in Gateway.Verify).
type externalKey struct {
	handle Handle
	pub    *rsa.PublicKey
}
