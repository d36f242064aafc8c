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

// Package config loads the Master/Slave daemon configuration. The spec's
// external interface (§6) enumerates the recognized keys as an INI file;
// INI parsing itself is an out-of-scope external collaborator (§1), so
// this package produces the equivalent Config value from YAML, the
// teacher's own configuration format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sage-x-project/kmngr/internal/kerr"
)

// LoadFromFile reads and parses a YAML configuration file, applies
// defaults for any omitted field, and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.New(kerr.CodeConfiguration, fmt.Sprintf("read config file %s", path), err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, kerr.New(kerr.CodeConfiguration, "parse config file", err)
	}

	setDefaults(cfg)
	SubstituteEnvVars(cfg)
	ApplyEnvOverrides(cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, kerr.New(kerr.CodeConfiguration, errs[0].Error(), nil)
	}

	return cfg, nil
}

// SaveToFile marshals cfg as YAML and writes it to path, mirroring the
// original's role of a human-editable config file a node operator hand-edits.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return kerr.New(kerr.CodeConfiguration, "marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return kerr.New(kerr.CodeConfiguration, fmt.Sprintf("write config file %s", path), err)
	}
	return nil
}

// setDefaults fills in the same nominal values the reference config.ini
// ships with, so a minimal YAML file is still runnable.
func setDefaults(cfg *Config) {
	if cfg.Secrets.StkSize == 0 {
		cfg.Secrets.StkSize = 32
	}
	if cfg.Timers.LtkCycle == 0 {
		cfg.Timers.LtkCycle = 3600
	}
	if cfg.Timers.StkCycle == 0 {
		cfg.Timers.StkCycle = 60
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxBytes == 0 {
		cfg.Log.MaxBytes = 10 * 1024 * 1024
	}
	if cfg.Log.BackupCount == 0 {
		cfg.Log.BackupCount = 3
	}
}
