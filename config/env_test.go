package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvUsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", expandEnv("${KMNGR_DOES_NOT_EXIST:fallback}"))
}

func TestExpandEnvUsesDefaultWhenUnsetAndNoDefault(t *testing.T) {
	assert.Equal(t, "", expandEnv("${KMNGR_DOES_NOT_EXIST}"))
}

func TestExpandEnvPrefersEnvironment(t *testing.T) {
	t.Setenv("KMNGR_EXPAND_TEST", "value-from-env")
	assert.Equal(t, "value-from-env", expandEnv("${KMNGR_EXPAND_TEST:fallback}"))
}

func TestExpandEnvLeavesPlainStringsUntouched(t *testing.T) {
	assert.Equal(t, "vcan0", expandEnv("vcan0"))
}

func TestApplyEnvOverridesSetsFieldsFromEnvironment(t *testing.T) {
	t.Setenv("KMNGR_CAN_VBUS", "can1")
	t.Setenv("KMNGR_LOG_LEVEL", "debug")

	cfg := &Config{}
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "can1", cfg.CAN.VBus)
	assert.Equal(t, "debug", cfg.Log.Level)
}
