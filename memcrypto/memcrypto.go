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

// Package memcrypto implements the AEAD primitive used to wrap the STK
// inside an LTK-encrypted envelope; the STK republished over MQTT is the
// raw key bytes, not wrapped. The wire format is a Fernet token: a version byte, a
// timestamp, a 128-bit IV, AES-128-CBC ciphertext and a 256-bit HMAC-SHA256
// tag computed over all of the above, matching the reference Python
// implementation byte-for-byte so Master and Slave built against either
// language interoperate.
package memcrypto

import (
	"crypto/rand"
	"errors"

	"github.com/fernet/fernet-go"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// KeySize is the length in bytes of the raw symmetric key accepted by
// InitializeWithKey (256 bits).
const KeySize = 32

// ErrAlreadyInitialized is returned by InitializeWithKey when the instance
// already holds a key; re-initialization is not allowed.
var ErrAlreadyInitialized = errors.New("memcrypto: already initialized")

// ErrNotInitialized is returned by Encrypt/Decrypt before a key has been set.
var ErrNotInitialized = errors.New("memcrypto: not initialized")

// MemCrypto wraps a single symmetric key and performs authenticated
// encryption/decryption with it. It is write-once: InitializeWithKey may
// only succeed a single time per instance.
type MemCrypto struct {
	key *fernet.Key
}

// New returns an uninitialized MemCrypto. Call InitializeWithKey before use.
func New() *MemCrypto {
	return &MemCrypto{}
}

// GenerateKey returns a fresh 256-bit random key in its on-wire (URL-safe
// base64) encoding. InitializeWithKey takes the KeySize raw bytes, so
// this encoding must be base64-decoded before it is passed there.
func GenerateKey() ([]byte, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "generate memcrypto key", err)
	}
	return []byte(k.Encode()), nil
}

// InitializeWithKey sets the instance's key from 256 bits of raw key
// material, deriving the on-wire key format deterministically (URL-safe
// base64 of the raw bytes). It fails if the instance is already
// initialized or the key is not exactly KeySize bytes.
func (m *MemCrypto) InitializeWithKey(raw []byte) error {
	if m.key != nil {
		return ErrAlreadyInitialized
	}
	if len(raw) != KeySize {
		return kerr.New(kerr.CodeConfiguration, "raw key must be 32 bytes", nil)
	}

	var k fernet.Key
	copy(k[:], raw)
	m.key = &k
	return nil
}

// GenMemKey generates a fresh random key value independent of the
// instance's own key; this is the STK material itself, not a wire format.
func (m *MemCrypto) GenMemKey() ([]byte, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "generate mem key", err)
	}
	return buf, nil
}

// Encrypt authenticated-encrypts plaintext under the instance's key,
// producing a Fernet token (version || timestamp || IV || ciphertext ||
// HMAC-SHA256 tag, URL-safe base64 encoded).
func (m *MemCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	if m.key == nil {
		return nil, ErrNotInitialized
	}
	tok, err := fernet.EncryptAndSign(plaintext, m.key)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "encrypt envelope", err)
	}
	return tok, nil
}

// Decrypt verifies the authentication tag and decrypts ciphertext. It
// fails closed with a CodeIntegrity error on any tamper, truncation, or
// malformed token.
func (m *MemCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	if m.key == nil {
		return nil, ErrNotInitialized
	}
	// ttl<=0 disables the token-age check: the protocol has no replay
	// protection across reboots (spec Non-goals), so token age is not a
	// meaningful signal here.
	msg := fernet.VerifyAndDecrypt(ciphertext, 0, []*fernet.Key{m.key})
	if msg == nil {
		return nil, kerr.New(kerr.CodeIntegrity, "envelope failed authentication", nil)
	}
	return msg, nil
}

// Key returns the instance's on-wire key encoding, or nil if uninitialized.
func (m *MemCrypto) Key() []byte {
	if m.key == nil {
		return nil
	}
	return []byte(m.key.Encode())
}
