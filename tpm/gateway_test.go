package tpm

import (
	"testing"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	sim, err := simulator.Get()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	gw := Open(transport.FromReadWriter(sim))
	require.NoError(t, gw.Provision(t.TempDir()))
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestProvisionLoadsAsymmetricKeypair(t *testing.T) {
	gw := newTestGateway(t)
	require.NotZero(t, gw.AsymHandle())
	require.NotZero(t, gw.PrimaryHandle())
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	gw := newTestGateway(t)

	message := []byte("ltk-public-blob")
	sig, err := gw.Sign(message)
	require.NoError(t, err)

	pub, err := gw.AsymPublicKey()
	require.NoError(t, err)

	require.True(t, gw.Verify(pub, message, sig))
	require.False(t, gw.Verify(pub, []byte("tampered"), sig))
}

func TestSealUnsealRoundTrip(t *testing.T) {
	gw := newTestGateway(t)

	plaintext, err := gw.GetRandom(32)
	require.NoError(t, err)

	pub, priv, err := gw.Seal(plaintext)
	require.NoError(t, err)

	handle, err := gw.Load(pub, priv)
	require.NoError(t, err)
	defer func() { _ = gw.Flush(handle) }()

	unsealed, err := gw.Unseal(handle)
	require.NoError(t, err)
	require.Equal(t, plaintext, unsealed)
}

func TestGetRandomLength(t *testing.T) {
	gw := newTestGateway(t)
	b, err := gw.GetRandom(16)
	require.NoError(t, err)
	require.Len(t, b, 16)
}

func TestDictionaryLockoutResetDoesNotError(t *testing.T) {
	gw := newTestGateway(t)
	require.NoError(t, gw.DictionaryLockoutReset())
}
