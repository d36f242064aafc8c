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
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// asymKeyBits is the RSA modulus size used for the exportable
// sign/decrypt keypair created under the primary during provisioning.
const asymKeyBits = 2048

// primaryTemplate is the storage primary used to parent both the
// exportable asymmetric keypair and every sealed symmetric key. It
// mirrors tpm2.RSASRKTemplate: a restricted, non-duplicable decrypt key.
var primaryTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgRSA,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:            true,
		FixedParent:         true,
		SensitiveDataOrigin: true,
		UserWithAuth:        true,
		Restricted:          true,
		Decrypt:             true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgRSA,
		&tpm2.TPMSRSAParms{
			Symmetric: tpm2.TPMTSymDefObject{
				Algorithm: tpm2.TPMAlgAES,
				KeyBits:   tpm2.NewTPMUSymKeyBits(tpm2.TPMAlgAES, tpm2.TPMKeyBits(128)),
				Mode:      tpm2.NewTPMUSymMode(tpm2.TPMAlgAES, tpm2.TPMAlgCFB),
			},
			Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
			KeyBits: asymKeyBits,
		},
	),
	Unique: tpm2.NewTPMUPublicID(
		tpm2.TPMAlgRSA,
		&tpm2.TPM2BPublicKeyRSA{Buffer: make([]byte, asymKeyBits/8)},
	),
}

// asymKeyTemplate is the exportable RSA keypair used by the Master for
// both signing (RSASSA/SHA-256) and decryption (OAEP); the reference
// driver uses the same loaded handle for TPM2_Sign and TPM2_RSADecrypt.
var asymKeyTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgRSA,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:            true,
		FixedParent:         true,
		SensitiveDataOrigin: true,
		UserWithAuth:        true,
		Decrypt:             true,
		SignEncrypt:         true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgRSA,
		&tpm2.TPMSRSAParms{
			Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
			KeyBits: asymKeyBits,
		},
	),
	Unique: tpm2.NewTPMUPublicID(
		tpm2.TPMAlgRSA,
		&tpm2.TPM2BPublicKeyRSA{Buffer: make([]byte, asymKeyBits/8)},
	),
}

// sealedObjectTemplate wraps arbitrary data (the LTK) as a TPM keyedhash
// object with no scheme, i.e. a pure seal/unseal blob.
var sealedObjectTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgKeyedHash,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:     true,
		FixedParent:  true,
		UserWithAuth: true,
		NoDA:         true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgKeyedHash,
		&tpm2.TPMSKeyedHashParms{
			Scheme: tpm2.TPMTKeyedHashScheme{Scheme: tpm2.TPMAlgNull},
		},
	),
}

// Gateway is a thin driver around a TPM 2.0 context: it owns the primary
// storage key and the exportable asymmetric keypair, and exposes the
// handful of TPM2 commands the key-distribution protocol needs. All
// object identity above the TPM primitives (ordinals, which sealed blob
// belongs to which LTK) is KeyStore's job, not Gateway's.
type Gateway struct {
	tpm     transport.TPMCloser
	primary Handle

	asymPub  tpm2.TPM2BPublic
	asymPriv tpm2.TPM2BPrivate
	asym     Handle // loaded handle for the exportable keypair
}

// Open wraps an already-connected TPM transport (a real device, a
// resource manager socket, or a simulator) into a Gateway.
func Open(t transport.TPMCloser) *Gateway {
	return &Gateway{tpm: t}
}

// Provision creates the primary storage key and the exportable
// asymmetric keypair beneath it, loading the latter so Sign/RSADecrypt
// are immediately usable. contextDir is accepted for interface
// compatibility with the reference driver's file-backed context layout
// (§6) but is otherwise unused: this Gateway keeps loaded handles in TPM
// transient object slots for the life of the process instead of
// persisting context blobs to disk.
func (g *Gateway) Provision(contextDir string) error {
	// Best-effort: recover from any dictionary-attack lockout left over
	// from a prior run before provisioning fresh key material. A TPM
	// that isn't locked out answers this trivially; a genuine lockout
	// that hasn't timed out yet still fails here, so this doesn't block
	// provisioning on it.
	_ = g.DictionaryLockoutReset()

	createPrimary := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(primaryTemplate),
	}
	primResp, err := createPrimary.Execute(g.tpm)
	if err != nil {
		return kerr.New(kerr.CodeProvisioning, "create primary key", err)
	}
	g.primary = Handle{value: primResp.ObjectHandle}

	createAsym := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{Handle: g.primary.value, Auth: tpm2.PasswordAuth(nil)},
		InPublic:     tpm2.New2B(asymKeyTemplate),
	}
	asymResp, err := createAsym.Execute(g.tpm)
	if err != nil {
		return kerr.New(kerr.CodeProvisioning, "create asymmetric keypair", err)
	}
	g.asymPub = asymResp.OutPublic
	g.asymPriv = asymResp.OutPrivate

	loadAsym := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{Handle: g.primary.value, Auth: tpm2.PasswordAuth(nil)},
		InPrivate:    g.asymPriv,
		InPublic:     g.asymPub,
	}
	loadResp, err := loadAsym.Execute(g.tpm)
	if err != nil {
		return kerr.New(kerr.CodeProvisioning, "load asymmetric keypair", err)
	}
	g.asym = Handle{value: loadResp.ObjectHandle}
	return nil
}

// AsymHandle returns the loaded handle for the exportable keypair, used
// as both the signing key and the decryption key by KeyStore.
func (g *Gateway) AsymHandle() Handle {
	return g.asym
}

// AsymPublicKey reconstructs the Go rsa.PublicKey for the exportable
// keypair from its TPM public area, for host-side signature
// verification against Sign's output.
func (g *Gateway) AsymPublicKey() (*rsa.PublicKey, error) {
	pub, err := g.asymPub.Contents()
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "decode asymmetric public area", err)
	}
	rsaDetail, err := pub.Unique.RSA()
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "decode rsa public key", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(rsaDetail.Buffer),
		E: 65537,
	}, nil
}

// PrimaryHandle returns the loaded primary, used as the seal/load parent
// for sealed symmetric keys.
func (g *Gateway) PrimaryHandle() Handle {
	return g.primary
}

// LoadExternalPubKey loads a PEM-encoded RSA public key as an external
// TPM object (no private part) and returns its handle.
func (g *Gateway) LoadExternalPubKey(pemBytes []byte) (Handle, *rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return Handle{}, nil, kerr.New(kerr.CodeConfiguration, "no PEM block in external key file", nil)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return Handle{}, nil, kerr.New(kerr.CodeConfiguration, "parse external public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return Handle{}, nil, kerr.New(kerr.CodeConfiguration, "external public key is not RSA", nil)
	}

	pubTemplate := tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			Decrypt:     true,
			SignEncrypt: true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
				KeyBits: tpm2.TPMKeyBits(rsaPub.N.BitLen()),
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgRSA,
			&tpm2.TPM2BPublicKeyRSA{Buffer: rsaPub.N.Bytes()},
		),
	}

	loadExt := tpm2.LoadExternal{
		Hierarchy: tpm2.TPMRHOwner,
		InPublic:  tpm2.New2B(pubTemplate),
	}
	resp, err := loadExt.Execute(g.tpm)
	if err != nil {
		return Handle{}, nil, kerr.New(kerr.CodeProvisioning, "load external public key", err)
	}
	return Handle{value: resp.ObjectHandle}, rsaPub, nil
}

// GetRandom returns n bytes from the TPM's RNG.
func (g *Gateway) GetRandom(n int) ([]byte, error) {
	resp, err := tpm2.GetRandom{BytesRequested: uint16(n)}.Execute(g.tpm)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "get random", err)
	}
	return resp.RandomBytes.Buffer, nil
}

// RSAEncrypt OAEP-encrypts plaintext under the external public key
// identified by handle.
func (g *Gateway) RSAEncrypt(handle Handle, plaintext []byte) ([]byte, error) {
	enc := tpm2.RSAEncrypt{
		KeyHandle: handle.value,
		Message:   tpm2.TPM2BPublicKeyRSA{Buffer: plaintext},
		InScheme: tpm2.TPMTRSADecrypt{
			Scheme: tpm2.TPMAlgOAEP,
			Details: tpm2.NewTPMUAsymScheme(
				tpm2.TPMAlgOAEP,
				&tpm2.TPMSEncSchemeOAEP{HashAlg: tpm2.TPMAlgSHA256},
			),
		},
	}
	resp, err := enc.Execute(g.tpm)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "rsa encrypt", err)
	}
	return resp.OutData.Buffer, nil
}

// RSADecrypt OAEP-decrypts ciphertext under the Gateway's own loaded
// asymmetric keypair (never under an external/loaded-public handle).
func (g *Gateway) RSADecrypt(ciphertext []byte) ([]byte, error) {
	dec := tpm2.RSADecrypt{
		KeyHandle:  tpm2.AuthHandle{Handle: g.asym.value, Auth: tpm2.PasswordAuth(nil)},
		CipherText: tpm2.TPM2BPublicKeyRSA{Buffer: ciphertext},
		InScheme: tpm2.TPMTRSADecrypt{
			Scheme: tpm2.TPMAlgOAEP,
			Details: tpm2.NewTPMUAsymScheme(
				tpm2.TPMAlgOAEP,
				&tpm2.TPMSEncSchemeOAEP{HashAlg: tpm2.TPMAlgSHA256},
			),
		},
	}
	resp, err := dec.Execute(g.tpm)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "rsa decrypt", err)
	}
	return resp.Message.Buffer, nil
}

// Sign produces an RSASSA/SHA-256 signature over message using the
// Gateway's own loaded asymmetric keypair.
func (g *Gateway) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sign := tpm2.Sign{
		KeyHandle: tpm2.AuthHandle{Handle: g.asym.value, Auth: tpm2.PasswordAuth(nil)},
		Digest:    tpm2.TPM2BDigest{Buffer: digest[:]},
		InScheme: tpm2.TPMTSigScheme{
			Scheme: tpm2.TPMAlgRSASSA,
			Details: tpm2.NewTPMUSigScheme(
				tpm2.TPMAlgRSASSA,
				&tpm2.TPMSSchemeHash{HashAlg: tpm2.TPMAlgSHA256},
			),
		},
		Validation: tpm2.TPMTTKHashCheck{Tag: tpm2.TPMSTHashCheck},
	}
	resp, err := sign.Execute(g.tpm)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "sign", err)
	}
	rsaSig, err := resp.Signature.RSASSA()
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "decode rsassa signature", err)
	}
	return rsaSig.Sig.Buffer, nil
}

// Verify checks an RSASSA/SHA-256 signature over message against pub
// (the parsed Go key of an external public key), using the host Go RSA
// implementation rather than a TPM command: the TPM's own
// TPM2_VerifySignature requires a key created for signing operations,
// which an externally loaded raw public key is not always eligible for,
// so verification is done host-side against the same PEM-derived key.
func (g *Gateway) Verify(pub *rsa.PublicKey, message, sig []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// Seal wraps plaintext as a TPM keyedhash object parented under the
// Gateway's primary key, returning the public/private blob pair that
// KeyStore keeps in memory as the sealed symmetric key.
func (g *Gateway) Seal(plaintext []byte) (tpm2.TPM2BPublic, tpm2.TPM2BPrivate, error) {
	create := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{Handle: g.primary.value, Auth: tpm2.PasswordAuth(nil)},
		InPublic:     tpm2.New2B(sealedObjectTemplate),
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{Buffer: plaintext}),
			},
		},
	}
	resp, err := create.Execute(g.tpm)
	if err != nil {
		return tpm2.TPM2BPublic{}, tpm2.TPM2BPrivate{}, kerr.New(kerr.CodeTransientTPM, "seal", err)
	}
	return resp.OutPublic, resp.OutPrivate, nil
}

// Load loads a sealed public/private blob pair under the primary key and
// returns the resulting transient handle, ready for Unseal.
func (g *Gateway) Load(pub tpm2.TPM2BPublic, priv tpm2.TPM2BPrivate) (Handle, error) {
	load := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{Handle: g.primary.value, Auth: tpm2.PasswordAuth(nil)},
		InPrivate:    priv,
		InPublic:     pub,
	}
	resp, err := load.Execute(g.tpm)
	if err != nil {
		return Handle{}, kerr.New(kerr.CodeTransientTPM, "load sealed object", err)
	}
	return Handle{value: resp.ObjectHandle}, nil
}

// Unseal returns the plaintext behind a loaded keyedhash object.
func (g *Gateway) Unseal(loaded Handle) ([]byte, error) {
	unseal := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{Handle: loaded.value, Auth: tpm2.PasswordAuth(nil)},
	}
	resp, err := unseal.Execute(g.tpm)
	if err != nil {
		return nil, kerr.New(kerr.CodeTransientTPM, "unseal", err)
	}
	return resp.OutData.Buffer, nil
}

// Flush releases a transient handle back to the TPM.
func (g *Gateway) Flush(h Handle) error {
	if !h.valid() {
		return nil
	}
	_, err := tpm2.FlushContext{FlushHandle: h.value}.Execute(g.tpm)
	if err != nil {
		return kerr.New(kerr.CodeTransientTPM, "flush context", err)
	}
	return nil
}

// DictionaryLockoutReset clears any dictionary-attack lockout left over
// from a prior run, as the reference driver does once at start of day.
func (g *Gateway) DictionaryLockoutReset() error {
	reset := tpm2.DictionaryAttackLockReset{
		LockHandle: tpm2.AuthHandle{Handle: tpm2.TPMRHLockout, Auth: tpm2.PasswordAuth(nil)},
	}
	_, err := reset.Execute(g.tpm)
	if err != nil {
		return kerr.New(kerr.CodeTransientTPM, "dictionary lockout reset", err)
	}
	return nil
}

// Close flushes the asymmetric keypair and primary handles and releases
// the underlying transport.
func (g *Gateway) Close() error {
	_ = g.Flush(g.asym)
	_ = g.Flush(g.primary)
	return g.tpm.Close()
}

