package util

import (
	"github.com/berfenger/homebattery2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Log: config.LogConfig{
			Format: "console",
		},
		ModbusTcp: config.ModbusTCPConfig{
			Host:          "-.-.-.-",
			Port:          502,
			UnitId:        1,
			TimeoutMillis: 1000,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "homebattery",
			HADiscoveryTopic: "homeassistant",
		},
		Battery: config.BatteryConfig{
			StartStop:                        "START",
			MaxStartAttempts:                 120,
			MaxStopAttempts:                  30,
			CriticalMinCellVoltage:           2800,
			CriticalMinVoltageTimeoutSeconds: 600,
			StartUpRelayHoldMillis:           10000,
		},
		Cycle: config.CycleConfig{
			IntervalMillis:       100,
			TimeoutMillis:        1000,
			PublishRefreshCycles: 5,
		},
		API: config.APIConfig{
			WriteRatePerSecond: 1,
			WriteBurst:         5,
		},
		Port: 8080,
	}
}
