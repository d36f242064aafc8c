package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
secrets:
  shared_secret: s3cr3t
  stk_size: 32
  ext_pub_key: /etc/kmngr/slave1_pub.pem
can:
  vbus: vcan0
  bitrate: 500000
  ltk_st: 0xFF100
  stk_st: 0xFF200
mqtt:
  user: kmngr
  passwd: ${KMNGR_TEST_MQTT_PASSWD:fallback}
  host: localhost
  port: 1883
timers:
  ltk_cycle: 3600
  stk_cycle: 60
log:
  level: info
  filename: /var/log/kmngr.log
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFromFileParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", cfg.Secrets.SharedSecret)
	assert.Equal(t, 32, cfg.Secrets.StkSize)
	assert.Equal(t, "vcan0", cfg.CAN.VBus)
	assert.EqualValues(t, 0xFF100, cfg.CAN.LtkSt)
	assert.EqualValues(t, 0xFF100+51, cfg.CAN.LtkSigID())
	assert.Equal(t, "kmngr", cfg.MQTT.User)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, 3600, cfg.Timers.LtkCycle)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFileExpandsEnvVarWithFallback(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.MQTT.Passwd)
}

func TestLoadFromFileExpandsEnvVarFromEnvironment(t *testing.T) {
	t.Setenv("KMNGR_TEST_MQTT_PASSWD", "real-secret")
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "real-secret", cfg.MQTT.Passwd)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
can:
  vbus: vcan0
  ltk_st: 1
  stk_st: 2
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Secrets.StkSize)
	assert.Equal(t, 3600, cfg.Timers.LtkCycle)
	assert.Equal(t, 60, cfg.Timers.StkCycle)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFileRejectsMissingRequiredFields(t *testing.T) {
	path := writeTempConfig(t, `
secrets:
  stk_size: 32
`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestKmngrEnvOverrideTakesPriorityOverYAML(t *testing.T) {
	t.Setenv("KMNGR_MQTT_HOST", "override-host")
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "override-host", cfg.MQTT.Host)
}

func TestSaveToFileRoundTrips(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveToFile(cfg, outPath))

	reloaded, err := LoadFromFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.CAN.VBus, reloaded.CAN.VBus)
	assert.Equal(t, cfg.MQTT.Port, reloaded.MQTT.Port)
}
