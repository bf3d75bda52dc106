package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/protection"
	"github.com/berfenger/homebattery2mqtt/internal/core/service"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel  zapcore.Level
	Log       LogConfig       `mapstructure:"log"`
	ModbusTcp ModbusTCPConfig `mapstructure:"modbus_tcp"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`

	Battery BatteryConfig `mapstructure:"battery"`
	Cycle   CycleConfig   `mapstructure:"cycle"`
	API     APIConfig     `mapstructure:"api"`
	Port    uint          `mapstructure:"port"`
	HttpLog bool          `mapstructure:"http_log"`
}

type LogConfig struct {
	// Format is json or console
	Format string
	// File enables a rotated log file next to stdout when set.
	File       string
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type ModbusTCPConfig struct {
	Host          string
	Port          uint
	UnitId        uint   `mapstructure:"unit_id"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type BatteryConfig struct {
	StartStop        string `mapstructure:"start_stop"`
	MaxStartAttempts int    `mapstructure:"max_start_attempts"`
	MaxStopAttempts  int    `mapstructure:"max_stop_attempts"`
	// mV
	CriticalMinCellVoltage           int    `mapstructure:"critical_min_cell_voltage"`
	CriticalMinVoltageTimeoutSeconds uint32 `mapstructure:"critical_min_voltage_timeout_seconds"`
	StartUpRelayHoldMillis           uint32 `mapstructure:"start_up_relay_hold_millis"`
	StartUpRelayRegister             uint16 `mapstructure:"start_up_relay_register"`
	WatchdogRegister                 uint16 `mapstructure:"watchdog_register"`
	// YAML file with the protection curves, the built-in definition is used when empty.
	ProtectionFile string `mapstructure:"protection_file"`
}

type CycleConfig struct {
	IntervalMillis uint32 `mapstructure:"interval_millis"`
	TimeoutMillis  uint32 `mapstructure:"timeout_millis"`
	// every channel is published again after this many cycles
	PublishRefreshCycles int `mapstructure:"publish_refresh_cycles"`
}

type APIConfig struct {
	WriteRatePerSecond float64 `mapstructure:"write_rate_per_second"`
	WriteBurst         int     `mapstructure:"write_burst"`
}

func (c CycleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

func (c CycleConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c ModbusTCPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// ServiceConfig builds the battery configuration, loading the protection file if one is set.
func (c *Config) ServiceConfig() (service.Config, error) {
	target, err := statemachine.ParseTarget(c.Battery.StartStop)
	if err != nil {
		return service.Config{}, fmt.Errorf("battery.start_stop: %w", err)
	}
	svc := service.DefaultConfig()
	svc.StartStop = target
	svc.MaxStartAttempts = c.Battery.MaxStartAttempts
	svc.MaxStopAttempts = c.Battery.MaxStopAttempts
	svc.CriticalMinCellVoltage = c.Battery.CriticalMinCellVoltage
	svc.CriticalMinVoltageTimeout = time.Duration(c.Battery.CriticalMinVoltageTimeoutSeconds) * time.Second
	svc.StartUpRelayHold = time.Duration(c.Battery.StartUpRelayHoldMillis) * time.Millisecond
	svc.StartUpRelayRegister = c.Battery.StartUpRelayRegister
	svc.WatchdogRegister = c.Battery.WatchdogRegister
	if c.Battery.ProtectionFile != "" {
		def, err := protection.LoadDefinition(c.Battery.ProtectionFile)
		if err != nil {
			return service.Config{}, fmt.Errorf("battery.protection_file: %w", err)
		}
		svc.Protection = def
	}
	return svc, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ModbusTcp.Host == "" {
		errs = append(errs, errors.New("config param modbus_tcp.host is required"))
	}
	if c.ModbusTcp.UnitId > 247 {
		errs = append(errs, errors.New("config param modbus_tcp.unit_id should be <= 247"))
	}
	if c.Cycle.IntervalMillis < 200 {
		errs = append(errs, errors.New("config param cycle.interval_millis should be >= 200"))
	}
	if c.Cycle.TimeoutMillis == 0 {
		errs = append(errs, errors.New("config param cycle.timeout_millis should be > 0"))
	}
	if c.Cycle.PublishRefreshCycles < 0 {
		errs = append(errs, errors.New("config param cycle.publish_refresh_cycles should be >= 0"))
	}
	if c.Battery.MaxStartAttempts <= 0 || c.Battery.MaxStopAttempts <= 0 {
		errs = append(errs, errors.New("config params battery.max_start_attempts and battery.max_stop_attempts should be > 0"))
	}
	if c.API.WriteRatePerSecond <= 0 || c.API.WriteBurst <= 0 {
		errs = append(errs, errors.New("config params api.write_rate_per_second and api.write_burst should be > 0"))
	}
	if _, err := statemachine.ParseTarget(c.Battery.StartStop); err != nil {
		errs = append(errs, fmt.Errorf("config param battery.start_stop: %w", err))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.MQTT.Username != "" {
		c.MQTT.Username = "*redacted*"
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	return c
}

var topicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	if !topicRegexp.MatchString(lowerBaseTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
