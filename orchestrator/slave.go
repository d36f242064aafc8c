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

package orchestrator

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/kmngr/canbus"
	"github.com/sage-x-project/kmngr/config"
	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/internal/metrics"
	"github.com/sage-x-project/kmngr/memcrypto"
	"github.com/sage-x-project/kmngr/mqttpub"
	"github.com/sage-x-project/kmngr/tpm"
)

// recvTimeout is the Slave's blocking CAN receive timeout; a timeout is
// a normal outcome and simply causes another loop iteration.
const recvTimeout = 100 * time.Millisecond

// stkEnvelopeMinLen is the minimum decrypted STK envelope length (index
// prefix plus key material). A shorter decrypted envelope is malformed
// and discarded.
const stkEnvelopeMinLen = 32

// SlaveOrchestrator is a cooperative receive loop: it pulls one CAN
// frame at a time, dispatches it to the LTK or STK reassembler by
// arbitration ID, and reacts once a reassembler completes.
type SlaveOrchestrator struct {
	cfg  *config.Config
	ks   *tpm.KeyStore
	bus  canbus.Bus
	pub  mqttpub.Publisher
	log  logger.Logger

	ltkR *canbus.LtkReassembler
	stkR *canbus.StkReassembler

	extPubOrd int

	mu       sync.Mutex
	ltkBytes []byte
}

// NewSlaveOrchestrator returns a SlaveOrchestrator. extPubOrd is the
// ordinal the Master's external public key was loaded under via
// ks.LoadExternalKey.
func NewSlaveOrchestrator(cfg *config.Config, ks *tpm.KeyStore, bus canbus.Bus, pub mqttpub.Publisher, extPubOrd int, log logger.Logger) *SlaveOrchestrator {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &SlaveOrchestrator{
		cfg:       cfg,
		ks:        ks,
		bus:       bus,
		pub:       pub,
		log:       log,
		ltkR:      canbus.NewLtkReassembler(cfg.CAN.LtkSt, cfg.CAN.LtkSigID(), log),
		stkR:      canbus.NewStkReassembler(cfg.CAN.StkSt, log),
		extPubOrd: extPubOrd,
	}
}

// Run blocks until ctx is canceled or SIGINT/SIGTERM/SIGQUIT is
// received, always releasing the CAN bus and MQTT client before
// returning.
func (s *SlaveOrchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			s.log.Info("slave: shutdown signal received", logger.Any("signal", sig.String()))
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			frame, ok, err := s.bus.Recv(recvTimeout)
			if err != nil {
				s.log.Error("slave: CAN receive failed, stopping", logger.Error(err))
				return err
			}
			if !ok {
				continue // timeout: normal, try again
			}
			s.dispatch(frame)
		}
	})

	return g.Wait()
}

func (s *SlaveOrchestrator) release() {
	if s.pub != nil {
		s.pub.Close()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.Warn("slave: error closing CAN bus", logger.Error(err))
		}
	}
}

func (s *SlaveOrchestrator) dispatch(frame canbus.Frame) {
	if wrapped, sig, complete := s.ltkR.OnFrame(frame); complete {
		s.onNewLtk(wrapped, sig)
		return
	}
	if envelope, complete := s.stkR.OnFrame(frame); complete {
		s.onNewStk(envelope)
	}
}

// onNewLtk verifies the signature over the wrapped ciphertext (not the
// plaintext — both peers must agree on this), discards the LTK on any
// failure, and otherwise unwraps and stores it.
func (s *SlaveOrchestrator) onNewLtk(wrapped, signature []byte) {
	start := time.Now()

	valid, err := s.ks.VerifySignature(wrapped, signature, s.extPubOrd)
	if err != nil {
		s.log.Error("slave: LTK signature verification errored", logger.Error(err))
		metrics.SignatureVerifications.WithLabelValues("invalid").Inc()
		return
	}
	if !valid {
		s.log.Error("slave: LTK signature invalid, discarding")
		metrics.SignatureVerifications.WithLabelValues("invalid").Inc()
		return
	}
	metrics.SignatureVerifications.WithLabelValues("valid").Inc()

	ltkBytes, err := s.ks.RSADecrypt(wrapped)
	if err != nil {
		s.log.Error("slave: LTK decryption failed, discarding", logger.Error(err))
		return
	}

	s.mu.Lock()
	s.ltkBytes = ltkBytes
	s.mu.Unlock()

	metrics.RotationDuration.WithLabelValues("ltk").Observe(time.Since(start).Seconds())
	s.log.Info("slave: new LTK accepted")
}

// onNewStk decrypts envelope under the current LTK and republishes the
// recovered STK bytes. stk_idx is parsed but not enforced to be
// monotonically increasing, per spec.
func (s *SlaveOrchestrator) onNewStk(envelope []byte) {
	start := time.Now()

	s.mu.Lock()
	ltkBytes := s.ltkBytes
	s.mu.Unlock()
	if ltkBytes == nil {
		s.log.Error("slave: STK envelope received before any LTK, discarding")
		metrics.EnvelopeIntegrityChecks.WithLabelValues("invalid").Inc()
		return
	}

	mc := memcrypto.New()
	if err := mc.InitializeWithKey(conformKeySize(ltkBytes)); err != nil {
		s.log.Error("slave: STK MemCrypto init failed", logger.Error(err))
		metrics.EnvelopeIntegrityChecks.WithLabelValues("invalid").Inc()
		return
	}

	plain, err := mc.Decrypt(envelope)
	if err != nil {
		s.log.Error("slave: STK envelope failed integrity check, discarding", logger.Error(err))
		metrics.EnvelopeIntegrityChecks.WithLabelValues("invalid").Inc()
		return
	}
	if len(plain) < stkEnvelopeMinLen {
		s.log.Error("slave: STK envelope too short, discarding", logger.Int("length", len(plain)))
		metrics.EnvelopeIntegrityChecks.WithLabelValues("invalid").Inc()
		return
	}
	metrics.EnvelopeIntegrityChecks.WithLabelValues("valid").Inc()

	stkIdx := binary.LittleEndian.Uint32(plain[0:4])
	stkBytes := plain[4:]

	mqttpub.PublishAsync(s.pub, stkBytes, s.log)
	metrics.StkPublications.Inc()
	metrics.RotationDuration.WithLabelValues("stk").Observe(time.Since(start).Seconds())
	s.log.Info("slave: STK republished", logger.Any("stk_idx", stkIdx))
}
