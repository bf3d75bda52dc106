package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "homebattery"

// Load reads the configuration from the environment (HOMEBATTERY_ prefix) and from the YAML file named by
// CONFIG_FILE, if any.
func Load() (*Config, error) {
	// alias PORT => HOMEBATTERY_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("HOMEBATTERY_PORT", port)
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			slog.Warn("Config file not found", "file", cfgFile)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LogLevel = ParseLogLevel(v.GetString("log_level"))

	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "fatal":
		return zap.FatalLevel
	}
	return zap.InfoLevel
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("modbus_tcp.host", "")
	v.SetDefault("modbus_tcp.port", 502)
	v.SetDefault("modbus_tcp.unit_id", 1)
	v.SetDefault("modbus_tcp.timeout_millis", 1000)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "homebattery")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("battery.start_stop", "START")
	v.SetDefault("battery.max_start_attempts", 120)
	v.SetDefault("battery.max_stop_attempts", 30)
	v.SetDefault("battery.critical_min_cell_voltage", 2800)
	v.SetDefault("battery.critical_min_voltage_timeout_seconds", 600)
	v.SetDefault("battery.start_up_relay_hold_millis", 10000)
	v.SetDefault("battery.start_up_relay_register", 0)
	v.SetDefault("battery.watchdog_register", 0)
	v.SetDefault("battery.protection_file", "")
	v.SetDefault("cycle.interval_millis", 1000)
	v.SetDefault("cycle.timeout_millis", 5000)
	v.SetDefault("cycle.publish_refresh_cycles", 60)
	v.SetDefault("api.write_rate_per_second", 1)
	v.SetDefault("api.write_burst", 5)
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)
}
