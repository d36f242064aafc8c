package orchestrator

import (
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/kmngr/canbus"
	"github.com/sage-x-project/kmngr/config"
	"github.com/sage-x-project/kmngr/tpm"
)

type fakePub struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakePub) Publish(_ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakePub) Connected() bool { return true }
func (f *fakePub) Close()          {}

func (f *fakePub) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

// party bundles one side's Gateway/KeyStore pair, backed by its own
// software TPM simulator instance, mirroring how Master and Slave each
// run against physically distinct TPMs.
type party struct {
	gw *tpm.Gateway
	ks *tpm.KeyStore
}

func newParty(t *testing.T) *party {
	t.Helper()
	sim, err := simulator.Get()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	gw := tpm.Open(transport.FromReadWriter(sim))
	require.NoError(t, gw.Provision(t.TempDir()))
	t.Cleanup(func() { _ = gw.Close() })

	return &party{gw: gw, ks: tpm.NewKeyStore(gw)}
}

func pemOf(t *testing.T, p *party) []byte {
	t.Helper()
	pub, err := p.gw.AsymPublicKey()
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func testConfig() *config.Config {
	return &config.Config{
		Secrets: config.SecretsConfig{StkSize: 32},
		CAN:     config.CANConfig{LtkSt: 0x100, StkSt: 0x200},
		Timers:  config.TimersConfig{LtkCycle: 1, StkCycle: 1},
	}
}

// setup wires up a Master and a Slave sharing one LoopbackBus pair, each
// with its own TPM simulator and the other's external public key loaded.
func setup(t *testing.T) (*MasterOrchestrator, *SlaveOrchestrator, *party, *party, *fakePub, *fakePub, *canbus.LoopbackBus, *canbus.LoopbackBus) {
	t.Helper()
	cfg := testConfig()

	master := newParty(t)
	slave := newParty(t)

	masterExtOrd, err := master.ks.LoadExternalKey(pemOf(t, slave))
	require.NoError(t, err)
	slaveExtOrd, err := slave.ks.LoadExternalKey(pemOf(t, master))
	require.NoError(t, err)

	busM, busS := canbus.NewLoopbackPair()

	pubM := &fakePub{}
	pubS := &fakePub{}

	m := NewMasterOrchestrator(cfg, master.ks, busM, pubM, masterExtOrd, nil)
	s := NewSlaveOrchestrator(cfg, slave.ks, busS, pubS, slaveExtOrd, nil)

	return m, s, master, slave, pubM, pubS, busM, busS
}

// drain delivers every frame currently buffered on bus to s. Recv blocks
// indefinitely when called with a zero timeout, so a short positive
// timeout is used as the empty-buffer sentinel.
func drain(s *SlaveOrchestrator, bus *canbus.LoopbackBus) {
	for {
		frame, ok, _ := bus.Recv(10 * time.Millisecond)
		if !ok {
			return
		}
		s.dispatch(frame)
	}
}

func TestLtkRotationEndToEnd(t *testing.T) {
	m, s, master, _, _, _, _, busS := setup(t)

	require.NoError(t, m.tick())
	drain(s, busS)

	require.NotNil(t, s.ltkBytes)

	want, err := master.ks.MemoryExportSealedKey(m.ltkOrd)
	require.NoError(t, err)
	require.Equal(t, want, s.ltkBytes)
}

func TestLtkRotationTamperedSignatureDiscarded(t *testing.T) {
	m, s, _, _, _, _, _, busS := setup(t)

	require.NoError(t, m.tick())

	// Drain and tamper with the signature frames' last data byte before
	// dispatch, simulating a corrupted transmission.
	for {
		frame, ok, _ := busS.Recv(10 * time.Millisecond)
		if !ok {
			break
		}
		if frame.ID == m.cfg.CAN.LtkSigID() && len(frame.Data) > 0 {
			frame.Data[len(frame.Data)-1] ^= 0xFF
		}
		s.dispatch(frame)
	}

	require.Nil(t, s.ltkBytes)
}

func TestStkRotationEndToEnd(t *testing.T) {
	m, s, _, _, pubM, pubS, _, busS := setup(t)

	require.NoError(t, m.tick()) // seals + transmits LTK
	drain(s, busS)
	require.NotNil(t, s.ltkBytes)

	require.NoError(t, m.tick()) // counterStk hits stk_cycle, rotates STK
	drain(s, busS)

	require.NotNil(t, pubM.last())
	require.Equal(t, pubM.last(), pubS.last())
	require.Len(t, pubS.last(), 32)
}

func TestLocalBusIsInitializedAndNeverPopulated(t *testing.T) {
	m, _, _, _, _, _, _, _ := setup(t)

	require.NotNil(t, m.LocalBus())
	_, ok, err := m.LocalBus().Recv(10 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStkRotationSkippedBeforeLtkSealed(t *testing.T) {
	m, _, _, _, _, _, _, _ := setup(t)
	m.cfg.Timers.LtkCycle = 1000 // never fires this tick
	require.NoError(t, m.tick())
	require.Zero(t, m.ltkOrd)
	require.Zero(t, m.stkIdx)
}
