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

// Command slave-kmngr runs the Slave rotation daemon: it provisions its
// TPM state, loads the Master's external public key, opens the
// configured CAN interface and MQTT client, and runs the CAN receive
// loop until stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/kmngr/canbus"
	"github.com/sage-x-project/kmngr/config"
	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/internal/metrics"
	"github.com/sage-x-project/kmngr/mqttpub"
	"github.com/sage-x-project/kmngr/orchestrator"
	"github.com/sage-x-project/kmngr/tpm"
)

const connectTimeout = 10 * time.Second

var (
	configPath string
	ctxDir     string
)

var rootCmd = &cobra.Command{
	Use:   "slave-kmngr",
	Short: "Run the Slave LTK/STK republication daemon",
	RunE:  runDaemon,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./slave.yaml", "Path to the daemon's configuration file")
	rootCmd.Flags().StringVar(&ctxDir, "ctx-dir", "./tpm-ctx-slave", "TPM context directory (interface compatibility only)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewDefaultLogger()
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err == nil {
		log.SetLevel(level)
	}
	logger.SetDefaultLogger(log)

	t, err := tpm.OpenDevice()
	if err != nil {
		return fmt.Errorf("open TPM device: %w", err)
	}
	gw := tpm.Open(t)
	if err := gw.Provision(ctxDir); err != nil {
		return fmt.Errorf("provision TPM: %w", err)
	}

	ks := tpm.NewKeyStore(gw)
	extPEM, err := os.ReadFile(cfg.Secrets.ExtPubKey)
	if err != nil {
		return fmt.Errorf("read master external public key: %w", err)
	}
	extPubOrd, err := ks.LoadExternalKey(extPEM)
	if err != nil {
		return fmt.Errorf("load master external public key: %w", err)
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Listen); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
	}

	bus, err := canbus.OpenSocketCAN(cfg.CAN.VBus)
	if err != nil {
		return fmt.Errorf("open CAN bus: %w", err)
	}

	mqttClient := mqttpub.NewClient(mqttpub.Config{
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Passwd,
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
	}, log)
	if err := mqttClient.Connect(connectTimeout); err != nil {
		return fmt.Errorf("connect MQTT broker: %w", err)
	}

	s := orchestrator.NewSlaveOrchestrator(cfg, ks, bus, mqttClient, extPubOrd, log)
	return s.Run(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
