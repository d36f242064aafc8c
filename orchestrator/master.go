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

// Package orchestrator drives the Master and Slave rotation loops: the
// cooperative single-threaded schedulers that turn TPM-backed key
// material into CAN frames and back, per the reference
// CanCommunications/MasterKeyManager and SlaveKeyManager processes.
package orchestrator

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/kmngr/canbus"
	"github.com/sage-x-project/kmngr/config"
	"github.com/sage-x-project/kmngr/internal/kerr"
	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/internal/metrics"
	"github.com/sage-x-project/kmngr/memcrypto"
	"github.com/sage-x-project/kmngr/mqttpub"
	"github.com/sage-x-project/kmngr/tpm"
)

// MasterOrchestrator ticks once per second, (re)issuing the LTK and
// rotating the STK on the cycles configured in cfg.Timers. It owns the
// CAN bus and MQTT client for its entire lifetime and releases both on
// every exit path.
type MasterOrchestrator struct {
	cfg  *config.Config
	ks   *tpm.KeyStore
	link *canbus.CanLink
	bus  canbus.Bus
	pub  mqttpub.Publisher
	log  logger.Logger

	extPubOrd int

	counterLtk int
	counterStk int
	ltkOrd     int // 0 until the first LTK is sealed
	stkIdx     uint32

	// localBus mirrors the reference driver's local pub/sub side channel:
	// initialized so a future local diagnostics consumer has somewhere to
	// attach, never written to by this orchestrator.
	localBus canbus.Bus
}

// NewMasterOrchestrator returns a MasterOrchestrator. extPubOrd is the
// ordinal the Slave's external public key was loaded under via
// ks.LoadExternalKey; callers provision it before constructing the
// orchestrator so a restart re-provisions identically.
func NewMasterOrchestrator(cfg *config.Config, ks *tpm.KeyStore, bus canbus.Bus, pub mqttpub.Publisher, extPubOrd int, log logger.Logger) *MasterOrchestrator {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	local, _ := canbus.NewLoopbackPair()
	return &MasterOrchestrator{
		cfg:       cfg,
		ks:        ks,
		link:      canbus.NewCanLink(bus),
		bus:       bus,
		pub:       pub,
		log:       log,
		extPubOrd: extPubOrd,
		localBus:  local,
	}
}

// LocalBus returns the orchestrator's local diagnostics side channel. No
// component of this repo publishes on it; it exists for a future local
// consumer to subscribe to, matching the reference driver's
// initialized-but-unpopulated local_comm_handler.
func (m *MasterOrchestrator) LocalBus() canbus.Bus {
	return m.localBus
}

// Run blocks until ctx is canceled, SIGINT/SIGTERM/SIGQUIT is received,
// or a tick returns an unexpected (non-TPM) error. It always releases
// the CAN bus and MQTT client before returning.
func (m *MasterOrchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			m.log.Info("master: shutdown signal received", logger.Any("signal", sig.String()))
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := m.tick(); err != nil {
					m.log.Error("master: tick failed, stopping", logger.Error(err))
					return err
				}
			}
		}
	})

	return g.Wait()
}

func (m *MasterOrchestrator) release() {
	if m.pub != nil {
		m.pub.Close()
	}
	if m.bus != nil {
		if err := m.bus.Close(); err != nil {
			m.log.Warn("master: error closing CAN bus", logger.Error(err))
		}
	}
	if m.localBus != nil {
		_ = m.localBus.Close()
	}
}

// tick performs one second's worth of work: LTK (re)issuance followed by
// STK rotation. A TPM-origin failure is logged and swallowed so the loop
// continues at the next tick; any other error is unexpected and
// propagates to stop the orchestrator.
func (m *MasterOrchestrator) tick() error {
	m.counterLtk++
	if m.cfg.Timers.LtkCycle > 0 && m.counterLtk%m.cfg.Timers.LtkCycle == 0 {
		if err := m.rotateLtk(); err != nil {
			if isTpmFailure(err) {
				m.log.Error("master: LTK rotation failed", logger.Error(err))
				return nil
			}
			return err
		}
	}

	if m.ltkOrd == 0 {
		return nil
	}

	m.counterStk++
	if m.cfg.Timers.StkCycle > 0 && m.counterStk%m.cfg.Timers.StkCycle == 0 {
		if err := m.rotateStk(); err != nil {
			if isTpmFailure(err) {
				m.log.Error("master: STK rotation failed", logger.Error(err))
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *MasterOrchestrator) rotateLtk() error {
	start := time.Now()
	kind := "reexport"
	if m.ltkOrd == 0 {
		kind = "fresh"
		ord, err := m.ks.GenerateSealedSymKey(m.cfg.Secrets.StkSize)
		if err != nil {
			metrics.LtkRotations.WithLabelValues(kind, "failure").Inc()
			return err
		}
		m.ltkOrd = ord
	}

	wrapped, sig, err := m.ks.ExportSealedSymKey(m.extPubOrd, m.ltkOrd)
	if err != nil {
		metrics.LtkRotations.WithLabelValues(kind, "failure").Inc()
		return err
	}

	traceID := uuid.New().String()
	if err := m.link.SendPayload(m.cfg.CAN.LtkSt, "ltk_pub", wrapped); err != nil {
		metrics.LtkRotations.WithLabelValues(kind, "failure").Inc()
		return err
	}
	if err := m.link.SendPayload(m.cfg.CAN.LtkSigID(), "ltk_sig", sig); err != nil {
		metrics.LtkRotations.WithLabelValues(kind, "failure").Inc()
		return err
	}

	metrics.LtkRotations.WithLabelValues(kind, "success").Inc()
	metrics.RotationDuration.WithLabelValues("ltk").Observe(time.Since(start).Seconds())
	m.log.Info("master: LTK transmitted", logger.String("kind", kind), logger.String("trace_id", traceID))
	return nil
}

func (m *MasterOrchestrator) rotateStk() error {
	start := time.Now()

	ltkBytes, err := m.ks.MemoryExportSealedKey(m.ltkOrd)
	if err != nil {
		metrics.StkRotations.WithLabelValues("failure").Inc()
		return err
	}

	mc := memcrypto.New()
	if err := mc.InitializeWithKey(conformKeySize(ltkBytes)); err != nil {
		metrics.StkRotations.WithLabelValues("failure").Inc()
		return err
	}

	stkBytes, err := mc.GenMemKey()
	if err != nil {
		metrics.StkRotations.WithLabelValues("failure").Inc()
		return err
	}

	m.stkIdx++
	idx := make([]byte, 4)
	binary.LittleEndian.PutUint32(idx, m.stkIdx)
	envelope, err := mc.Encrypt(append(idx, stkBytes...))
	if err != nil {
		metrics.StkRotations.WithLabelValues("failure").Inc()
		return err
	}

	if err := m.link.SendPayload(m.cfg.CAN.StkSt, "stk", envelope); err != nil {
		metrics.StkRotations.WithLabelValues("failure").Inc()
		return err
	}

	mqttpub.PublishAsync(m.pub, stkBytes, m.log)
	metrics.StkPublications.Inc()
	metrics.StkRotations.WithLabelValues("success").Inc()
	metrics.RotationDuration.WithLabelValues("stk").Observe(time.Since(start).Seconds())
	metrics.StkIndex.Set(float64(m.stkIdx))
	m.log.Info("master: STK rotated", logger.Any("stk_idx", m.stkIdx))
	return nil
}

// conformKeySize truncates a longer sealed key, or zero-pads a shorter
// one on the right, to memcrypto's fixed key size; the sealed LTK is generated at exactly
// cfg.Secrets.StkSize bytes, so in practice this is a no-op safeguard
// against a misconfigured size.
func conformKeySize(raw []byte) []byte {
	if len(raw) == memcrypto.KeySize {
		return raw
	}
	out := make([]byte, memcrypto.KeySize)
	copy(out, raw)
	return out
}

func isTpmFailure(err error) bool {
	var kerrErr *kerr.Error
	if !errors.As(err, &kerrErr) {
		return false
	}
	switch kerrErr.Code {
	case kerr.CodeTransientTPM, kerr.CodeProvisioning:
		return true
	default:
		return false
	}
}
