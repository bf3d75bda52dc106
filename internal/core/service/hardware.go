package service

import (
	"fmt"
	"math"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
)

// HardwareType describes one battery module generation.
type HardwareType struct {
	Code                        int
	Name                        string
	CellsPerModule              int
	TemperatureSensorsPerModule int
	// module voltage window in V
	ModuleMinVoltage   float64
	ModuleMaxVoltage   float64
	CapacityPerModule  int // Wh
	SerialPrefixModule string
	SerialPrefixBms    string
}

var (
	Battery52 = HardwareType{
		Code:                        52,
		Name:                        "BATTERY_52",
		CellsPerModule:              16,
		TemperatureSensorsPerModule: 4,
		ModuleMinVoltage:            46.4,
		ModuleMaxVoltage:            57.6,
		CapacityPerModule:           2200,
		SerialPrefixModule:          "519100001009",
		SerialPrefixBms:             "519110001210",
	}
	Battery64 = HardwareType{
		Code:                        64,
		Name:                        "BATTERY_64",
		CellsPerModule:              14,
		TemperatureSensorsPerModule: 8,
		ModuleMinVoltage:            40.6,
		ModuleMaxVoltage:            50.4,
		CapacityPerModule:           2800,
		SerialPrefixModule:          "519200001009",
		SerialPrefixBms:             "519210001210",
	}

	DefaultHardwareType = Battery52
)

var hardwareTypes = []HardwareType{Battery52, Battery64}

func HardwareTypeByCode(code int) (HardwareType, bool) {
	for _, h := range hardwareTypes {
		if h.Code == code {
			return h, true
		}
	}
	return HardwareType{}, false
}

func hardwareTypeOptions() []channel.EnumOption {
	opts := make([]channel.EnumOption, 0, len(hardwareTypes))
	for _, h := range hardwareTypes {
		opts = append(opts, channel.EnumOption{Code: h.Code, Name: h.Name})
	}
	return opts
}

// hardwareTypeConverter maps the raw register (type code × 10) to a known code, unknown codes fall back to
// the default type.
var hardwareTypeConverter = regmap.Converter{
	Decode: func(raw float64) (float64, bool) {
		code := int(math.Round(raw / 10))
		if _, ok := HardwareTypeByCode(code); ok {
			return float64(code), true
		}
		return float64(DefaultHardwareType.Code), true
	},
	Encode: func(v float64) (float64, error) {
		return v * 10, nil
	},
}

// TowerCount derives the number of towers from the BMS software versions of tower 0..n.
// An undefined version makes the result undefined; a version of 0 or 256 marks a missing tower.
func TowerCount(versions []channel.Value) (int, bool) {
	count := 0
	for _, v := range versions {
		n, ok := v.Int()
		if !ok {
			return 0, false
		}
		if n == 0 || n == 256 {
			return max(1, count), true
		}
		count++
	}
	return count, true
}

func extractBits(v uint32, length, pos uint) uint32 {
	return ((1 << length) - 1) & (v >> (pos - 1))
}

// SerialNumber formats the packed serial number register of a module or BMS.
func SerialNumber(prefix string, v uint32) (string, bool) {
	if v == 0 {
		return "", false
	}
	year := extractBits(v, 7, 26)
	month := extractBits(v, 4, 22)
	day := extractBits(v, 5, 17)
	number := extractBits(v, 16, 1)
	return fmt.Sprintf("%s%02d%02d%02d%06d", prefix, year, month, day, number), true
}
