package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		CAN:     CANConfig{VBus: "vcan0", LtkSt: 0xFF100, StkSt: 0xFF200},
		Secrets: SecretsConfig{StkSize: 32},
		Timers:  TimersConfig{LtkCycle: 3600, StkCycle: 60},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.Empty(t, Validate(validConfig()))
}

func TestValidateRejectsEmptyVBus(t *testing.T) {
	cfg := validConfig()
	cfg.CAN.VBus = ""
	errs := Validate(cfg)
	assert.NotEmpty(t, errs)
}

func TestValidateRejectsZeroArbitrationIDs(t *testing.T) {
	cfg := validConfig()
	cfg.CAN.LtkSt = 0
	cfg.CAN.StkSt = 0
	errs := Validate(cfg)
	assert.Len(t, errs, 2)
}

func TestValidateRejectsNonPositiveCycles(t *testing.T) {
	cfg := validConfig()
	cfg.Timers.LtkCycle = 0
	cfg.Timers.StkCycle = -1
	errs := Validate(cfg)
	assert.Len(t, errs, 2)
}
