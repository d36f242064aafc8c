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

package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnv replaces ${VAR} or ${VAR:default} references with the current
// environment, so secrets like the MQTT password never need to be
// committed to a YAML file in plaintext.
func expandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// SubstituteEnvVars expands ${VAR} references across every string field of
// cfg that plausibly carries a secret or host-specific path.
func SubstituteEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Secrets.SharedSecret = expandEnv(cfg.Secrets.SharedSecret)
	cfg.Secrets.ExtPubKey = expandEnv(cfg.Secrets.ExtPubKey)
	cfg.CAN.VBus = expandEnv(cfg.CAN.VBus)
	cfg.MQTT.User = expandEnv(cfg.MQTT.User)
	cfg.MQTT.Passwd = expandEnv(cfg.MQTT.Passwd)
	cfg.MQTT.Host = expandEnv(cfg.MQTT.Host)
	cfg.Log.Filename = expandEnv(cfg.Log.Filename)
}

// ApplyEnvOverrides lets a small set of KMNGR_-prefixed environment
// variables override YAML values, taking highest priority — useful for
// container deployments that inject secrets as env vars rather than files.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KMNGR_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("KMNGR_MQTT_PASSWD"); v != "" {
		cfg.MQTT.Passwd = v
	}
	if v := os.Getenv("KMNGR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KMNGR_CAN_VBUS"); v != "" {
		cfg.CAN.VBus = v
	}
}
