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

// Command master-prov provisions the Master's TPM primary and
// exportable keypair, loads the Slave's external public key(s) so
// provisioning fails fast on a malformed key file, and prints the
// Master's own public key so it can be handed to the Slave's
// slave-prov invocation.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/kmngr/internal/logger"
	"github.com/sage-x-project/kmngr/tpm"
)

var (
	extKeyFiles []string
	ctxDir      string
)

var rootCmd = &cobra.Command{
	Use:   "master-prov",
	Short: "Provision the Master's TPM state and external key material",
	RunE:  runProvision,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringSliceVarP(&extKeyFiles, "external-key", "e", nil, "PEM-encoded external public key file(s) to validate")
	rootCmd.Flags().StringVar(&ctxDir, "ctx-dir", "./tpm-ctx-master", "TPM context directory (interface compatibility only)")
}

func runProvision(cmd *cobra.Command, args []string) error {
	log := logger.GetDefaultLogger()

	t, err := tpm.OpenDevice()
	if err != nil {
		return fmt.Errorf("open TPM device: %w", err)
	}
	gw := tpm.Open(t)
	defer func() { _ = gw.Close() }()

	if err := gw.Provision(ctxDir); err != nil {
		return fmt.Errorf("provision TPM: %w", err)
	}

	ks := tpm.NewKeyStore(gw)
	for _, path := range extKeyFiles {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read external key %s: %w", path, err)
		}
		ord, err := ks.LoadExternalKey(pemBytes)
		if err != nil {
			return fmt.Errorf("load external key %s: %w", path, err)
		}
		log.Info("master-prov: external key loaded", logger.String("path", path), logger.Int("ordinal", ord))
	}

	pub, err := gw.AsymPublicKey()
	if err != nil {
		return fmt.Errorf("read own public key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal own public key: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
