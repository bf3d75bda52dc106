package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("HomeBattery_1")
	assert.NoError(err)
	assert.Equal("homebattery_1", topic)

	_, err = CheckMQTTTopic("home/battery")
	assert.Error(err)

	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestLoadFromFileAndEnv(t *testing.T) {

	require := require.New(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(os.WriteFile(file, []byte(`
log_level: debug
modbus_tcp:
  host: 192.168.1.20
  unit_id: 1
mqtt:
  base_topic: Battery
  username: user
  password: secret
battery:
  start_stop: auto
cycle:
  interval_millis: 2000
`), 0o600))

	t.Setenv("CONFIG_FILE", file)
	t.Setenv("HOMEBATTERY_PORT", "")
	t.Setenv("PORT", "9090")
	t.Setenv("HOMEBATTERY_CYCLE_TIMEOUT_MILLIS", "3000")

	cfg, err := Load()
	require.NoError(err)
	require.Equal(zap.DebugLevel, cfg.LogLevel)
	require.Equal("192.168.1.20", cfg.ModbusTcp.Host)
	require.Equal(uint(502), cfg.ModbusTcp.Port)
	require.Equal("battery", cfg.MQTT.BaseTopic)
	require.Equal("homeassistant", cfg.MQTT.HADiscoveryTopic)
	require.Equal(2*time.Second, cfg.Cycle.Interval())
	require.Equal(3*time.Second, cfg.Cycle.Timeout())
	require.Equal(uint(9090), cfg.Port)

	svc, err := cfg.ServiceConfig()
	require.NoError(err)
	require.Equal(statemachine.TargetAuto, svc.StartStop)
	require.Equal(120, svc.MaxStartAttempts)
	require.Equal(10*time.Minute, svc.CriticalMinVoltageTimeout)

	redacted := cfg.Redacted()
	require.Equal("*redacted*", redacted.MQTT.Password)
	require.Equal("secret", cfg.MQTT.Password)
}

func TestValidate(t *testing.T) {

	assert := assert.New(t)

	v := viper.New()
	SetDefaults(v)
	_, err := FromViper(v)
	assert.ErrorContains(err, "modbus_tcp.host")

	v.Set("modbus_tcp.host", "bms")
	v.Set("battery.start_stop", "sometimes")
	_, err = FromViper(v)
	assert.ErrorContains(err, "battery.start_stop")

	v.Set("battery.start_stop", "STOP")
	v.Set("mqtt.base_topic", "a/b")
	_, err = FromViper(v)
	assert.ErrorContains(err, "base topic")

	v.Set("mqtt.base_topic", "ok")
	cfg, err := FromViper(v)
	assert.NoError(err)
	assert.Equal(zap.WarnLevel, cfg.LogLevel)
}

func TestServiceConfigProtectionFile(t *testing.T) {

	require := require.New(t)

	file := filepath.Join(t.TempDir(), "protection.yaml")
	require.NoError(os.WriteFile(file, []byte("force_current: 3\n"), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.Set("modbus_tcp.host", "bms")
	v.Set("battery.protection_file", file)
	cfg, err := FromViper(v)
	require.NoError(err)

	svc, err := cfg.ServiceConfig()
	require.NoError(err)
	require.Equal(3.0, svc.Protection.ForceCurrent)

	cfg.Battery.ProtectionFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.ServiceConfig()
	require.Error(err)
}
