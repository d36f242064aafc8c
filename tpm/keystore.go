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
	"sync"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// KeyStore owns the ordinal → object mapping for external public keys
// and sealed symmetric keys on top of a Gateway. Ordinals start at 1 and
// increase monotonically within a process; they are never reused.
//
// The reference driver persists each sealed blob and random scratch file
// under a hierarchical context directory so a restarted process can
// recover them; this implementation keeps the same ordinal scheme but
// holds the blobs in memory for the process lifetime, since a Go TPM
// session is not restarted independently of the process that opened it.
type KeyStore struct {
	gw *Gateway

	mu        sync.Mutex
	extNext   int
	extKeys   map[int]externalKey
	sealNext  int
	sealedOrd map[int]sealedBlob
}

// NewKeyStore returns a KeyStore operating atop an already-provisioned
// Gateway.
func NewKeyStore(gw *Gateway) *KeyStore {
	return &KeyStore{
		gw:        gw,
		extNext:   1,
		extKeys:   make(map[int]externalKey),
		sealNext:  1,
		sealedOrd: make(map[int]sealedBlob),
	}
}

// LoadExternalKey loads a PEM-encoded RSA public key and assigns it the
// next external-key ordinal.
func (k *KeyStore) LoadExternalKey(pemBytes []byte) (int, error) {
	handle, pub, err := k.gw.LoadExternalPubKey(pemBytes)
	if err != nil {
		return 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	ord := k.extNext
	k.extNext++
	k.extKeys[ord] = externalKey{handle: handle, pub: pub}
	return ord, nil
}

// GenerateSealedSymKey generates sizeBytes of TPM randomness, seals it
// under the primary key, and returns its ordinal. The plaintext random
// material is held only in memory for the duration of this call, is
// zeroized once sealed, and is never returned to the caller.
func (k *KeyStore) GenerateSealedSymKey(sizeBytes int) (int, error) {
	random, err := k.gw.GetRandom(sizeBytes)
	if err != nil {
		return 0, err
	}

	pub, priv, err := k.gw.Seal(random)
	zeroize(random)
	if err != nil {
		return 0, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	ord := k.sealNext
	k.sealNext++
	k.sealedOrd[ord] = sealedBlob{public: pub, private: priv}
	return ord, nil
}

// ExportSealedSymKey unseals the symmetric key at sealedOrd, RSA-OAEP
// encrypts it under the external public key at extPubOrd, signs the
// ciphertext under the Gateway's own keypair, and returns
// (wrappedCiphertext, signature). The unsealed plaintext never leaves
// this function.
func (k *KeyStore) ExportSealedSymKey(extPubOrd, sealedOrd int) (wrapped, sig []byte, err error) {
	plaintext, err := k.unsealLocked(sealedOrd)
	if err != nil {
		return nil, nil, err
	}
	defer zeroize(plaintext)

	ext, err := k.externalKeyLocked(extPubOrd)
	if err != nil {
		return nil, nil, err
	}

	wrapped, err = k.gw.RSAEncrypt(ext.handle, plaintext)
	if err != nil {
		return nil, nil, err
	}

	sig, err = k.gw.Sign(wrapped)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, sig, nil
}

// MemoryExportSealedKey unseals the symmetric key at sealedOrd and
// returns it directly to the caller. This is the only KeyStore path
// that exposes plaintext key material outside the TPM boundary; callers
// must use it only to seed MemCrypto, never to persist the key.
func (k *KeyStore) MemoryExportSealedKey(sealedOrd int) ([]byte, error) {
	return k.unsealLocked(sealedOrd)
}

// GenerateExternalSymKey is the one-shot issuance path: it generates
// sizeBytes of TPM randomness and wraps it directly under the external
// public key at extPubOrd, with no primary-sealed intermediate and no
// ordinal retained afterward. It returns the raw key material alongside
// the wrapped ciphertext and its signature, so the caller is responsible
// for the key's lifetime; it exists as a simpler alternative to
// GenerateSealedSymKey + ExportSealedSymKey for callers that don't need
// the sealed key to survive past the call that issues it.
func (k *KeyStore) GenerateExternalSymKey(sizeBytes, extPubOrd int) (raw, wrapped, sig []byte, err error) {
	raw, err = k.gw.GetRandom(sizeBytes)
	if err != nil {
		return nil, nil, nil, err
	}

	ext, err := k.externalKeyLocked(extPubOrd)
	if err != nil {
		zeroize(raw)
		return nil, nil, nil, err
	}

	wrapped, err = k.gw.RSAEncrypt(ext.handle, raw)
	if err != nil {
		zeroize(raw)
		return nil, nil, nil, err
	}

	sig, err = k.gw.Sign(wrapped)
	if err != nil {
		zeroize(raw)
		return nil, nil, nil, err
	}
	return raw, wrapped, sig, nil
}

// RSADecrypt decrypts ciphertext under the Gateway's own loaded
// asymmetric private key (Slave side: unwrapping the LTK it received).
func (k *KeyStore) RSADecrypt(ciphertext []byte) ([]byte, error) {
	return k.gw.RSADecrypt(ciphertext)
}

// VerifySignature checks signature over message against the external
// public key at extPubOrd (Slave side: authenticating the Master's LTK
// broadcast).
func (k *KeyStore) VerifySignature(message, signature []byte, extPubOrd int) (bool, error) {
	ext, err := k.externalKeyLocked(extPubOrd)
	if err != nil {
		return false, err
	}
	return k.gw.Verify(ext.pub, message, signature), nil
}

func (k *KeyStore) unsealLocked(sealedOrd int) ([]byte, error) {
	k.mu.Lock()
	blob, ok := k.sealedOrd[sealedOrd]
	k.mu.Unlock()
	if !ok {
		return nil, kerr.New(kerr.CodeConfiguration, "sealed key ordinal not found", nil)
	}

	handle, err := k.gw.Load(blob.public, blob.private)
	if err != nil {
		return nil, err
	}
	defer func() { _ = k.gw.Flush(handle) }()

	return k.gw.Unseal(handle)
}

func (k *KeyStore) externalKeyLocked(ord int) (externalKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ext, ok := k.extKeys[ord]
	if !ok {
		return externalKey{}, kerr.New(kerr.CodeConfiguration, "external key ordinal not found", nil)
	}
	return ext, nil
}

// zeroize overwrites b in place; used to scrub plaintext key material
// from memory as soon as it has served its purpose, the in-memory
// analogue of the reference driver's delete-scratch-file step.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
