package tpm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func testExternalKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return priv, pem.EncodeToMemory(block)
}

func TestGenerateSealedSymKeyOrdinalsAreMonotone(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	first, err := ks.GenerateSealedSymKey(16)
	require.NoError(t, err)
	second, err := ks.GenerateSealedSymKey(16)
	require.NoError(t, err)

	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

func TestMemoryExportSealedKeyReturnsSealedMaterial(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	ord, err := ks.GenerateSealedSymKey(32)
	require.NoError(t, err)

	key, err := ks.MemoryExportSealedKey(ord)
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestExportSealedSymKeyWrapsAndSigns(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	extPriv, extPEM := testExternalKeyPEM(t)
	extOrd, err := ks.LoadExternalKey(extPEM)
	require.NoError(t, err)

	sealedOrd, err := ks.GenerateSealedSymKey(32)
	require.NoError(t, err)

	wrapped, sig, err := ks.ExportSealedSymKey(extOrd, sealedOrd)
	require.NoError(t, err)
	require.NotEmpty(t, wrapped)
	require.NotEmpty(t, sig)

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, extPriv, wrapped, nil)
	require.NoError(t, err)
	require.Len(t, plaintext, 32)

	asymPub, err := gw.AsymPublicKey()
	require.NoError(t, err)
	require.True(t, gw.Verify(asymPub, wrapped, sig))
}

func TestGenerateExternalSymKeyWrapsAndSigns(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	extPriv, extPEM := testExternalKeyPEM(t)
	extOrd, err := ks.LoadExternalKey(extPEM)
	require.NoError(t, err)

	raw, wrapped, sig, err := ks.GenerateExternalSymKey(32, extOrd)
	require.NoError(t, err)
	require.Len(t, raw, 32)

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, extPriv, wrapped, nil)
	require.NoError(t, err)
	require.Equal(t, raw, plaintext)

	asymPub, err := gw.AsymPublicKey()
	require.NoError(t, err)
	require.True(t, gw.Verify(asymPub, wrapped, sig))
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	_, pemA := testExternalKeyPEM(t)
	_, pemB := testExternalKeyPEM(t)

	ordA, err := ks.LoadExternalKey(pemA)
	require.NoError(t, err)
	_, err = ks.LoadExternalKey(pemB)
	require.NoError(t, err)

	message := []byte("stk-envelope")
	sig, err := gw.Sign(message)
	require.NoError(t, err)

	ok, err := ks.VerifySignature(message, sig, ordA)
	require.NoError(t, err)
	// ordA is an unrelated external key, not the signer's own keypair.
	require.False(t, ok)
}

func TestRSADecryptUsesOwnAsymmetricKey(t *testing.T) {
	gw := newTestGateway(t)
	ks := NewKeyStore(gw)

	asymPub, err := gw.AsymPublicKey()
	require.NoError(t, err)

	plaintext := []byte("0123456789abcdef")
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, asymPub, plaintext, nil)
	require.NoError(t, err)

	decrypted, err := ks.RSADecrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}
