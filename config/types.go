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

// Config is the YAML-backed equivalent of spec §6's INI file: the same
// five sections (Secrets, CAN, mqtt, Timers, Log), carried as typed Go
// struct fields instead of untyped INI key/value pairs. INI parsing
// itself is an out-of-scope external collaborator (spec §1); a future
// front-end only needs to populate this same struct.
type Config struct {
	Secrets SecretsConfig `yaml:"secrets" json:"secrets"`
	CAN     CANConfig     `yaml:"can" json:"can"`
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	Timers  TimersConfig  `yaml:"timers" json:"timers"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// SecretsConfig mirrors the [Secrets] INI section.
type SecretsConfig struct {
	// SharedSecret is an out-of-band pre-shared value reserved for a future
	// provisioning handshake; the current protocol does not consume it
	// directly but carries it for config-format compatibility.
	SharedSecret string `yaml:"shared_secret" json:"shared_secret"`
	// StkSize is the size in bytes of the sealed LTK the Master generates
	// (32 for a 256-bit key). The STK itself is always memcrypto.KeySize
	// bytes and does not read this setting.
	StkSize int `yaml:"stk_size" json:"stk_size"`
	// ExtPubKey is the path to the peer's PEM-encoded RSA public key,
	// loaded into the TPM keystore via LoadExternalKey at startup.
	ExtPubKey string `yaml:"ext_pub_key" json:"ext_pub_key"`
}

// CANConfig mirrors the [CAN] INI section.
type CANConfig struct {
	// VBus is the SocketCAN interface name (e.g. "vcan0", "can0").
	VBus string `yaml:"vbus" json:"vbus"`
	// Bitrate is the bus bitrate in bit/s; informational for a SocketCAN
	// interface already configured at the OS level, carried for parity
	// with the original config format.
	Bitrate int `yaml:"bitrate" json:"bitrate"`
	// LtkSt is the base arbitration ID of the LTK-public channel. The
	// LTK-signature channel is always LtkSt+51 (spec §3).
	LtkSt uint32 `yaml:"ltk_st" json:"ltk_st"`
	// StkSt is the arbitration ID of the STK channel.
	StkSt uint32 `yaml:"stk_st" json:"stk_st"`
}

// LtkSigID returns the derived LTK-signature arbitration ID.
func (c CANConfig) LtkSigID() uint32 {
	return c.LtkSt + 51
}

// MQTTConfig mirrors the [mqtt] INI section.
type MQTTConfig struct {
	User   string `yaml:"user" json:"user"`
	Passwd string `yaml:"passwd" json:"passwd"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
}

// TimersConfig mirrors the [Timers] INI section; both cycles are counted
// in scheduler ticks (1s nominal, spec §4.7).
type TimersConfig struct {
	LtkCycle int `yaml:"ltk_cycle" json:"ltk_cycle"`
	StkCycle int `yaml:"stk_cycle" json:"stk_cycle"`
}

// LogConfig mirrors the [Log] INI section.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Filename    string `yaml:"filename" json:"filename"`
	MaxBytes    int    `yaml:"maxBytes" json:"maxBytes"`
	BackupCount int    `yaml:"backupCount" json:"backupCount"`
}

// MetricsConfig is an [ADD] ambient section with no INI counterpart: it
// controls the Prometheus scrape endpoint, not a protocol parameter.
// Listen is the address StartServer binds (e.g. ":9090"); empty disables
// the HTTP surface entirely.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}
