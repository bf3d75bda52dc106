package protection

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the static protection characterization of a battery model.
type Definition struct {
	ChargeVoltage        []Point              `yaml:"charge_voltage"`
	DischargeVoltage     []Point              `yaml:"discharge_voltage"`
	ChargeTemperature    []Point              `yaml:"charge_temperature"`
	DischargeTemperature []Point              `yaml:"discharge_temperature"`
	ChargeSoc            []Point              `yaml:"charge_soc,omitempty"`
	DischargeSoc         []Point              `yaml:"discharge_soc,omitempty"`
	ForceCharge          ForceChargeParams    `yaml:"force_charge"`
	ForceDischarge       ForceDischargeParams `yaml:"force_discharge"`
	InitialMaxCharge     float64              `yaml:"initial_max_charge_current"`
	InitialMaxDischarge  float64              `yaml:"initial_max_discharge_current"`
	MaxIncreasePerSecond float64              `yaml:"max_increase_ampere_per_second"`
	ForceCurrent         float64              `yaml:"force_current"`
}

// DefaultDefinition is the characterization of LFP home battery modules (cell voltages in mV, temperatures in °C).
func DefaultDefinition() Definition {
	return Definition{
		ChargeVoltage: []Point{
			{3000, 0.1}, {3485, 1}, {3570, 0.01}, {3600, 0},
		},
		DischargeVoltage: []Point{
			{2900, 0}, {2920, 0}, {3000, 0.05}, {3100, 1},
		},
		ChargeTemperature: []Point{
			{-10, 0}, {0, 0}, {1, 0.01}, {5, 0.3}, {15, 1}, {44, 1}, {45, 0.3}, {55, 0},
		},
		DischargeTemperature: []Point{
			{-20, 0}, {-10, 0.3}, {0, 0.5}, {15, 1}, {50, 1}, {55, 0.3}, {60, 0},
		},
		ForceCharge: ForceChargeParams{
			StartChargeBelow:    2850,
			ChargeBelow:         2910,
			BlockDischargeBelow: 3000,
		},
		ForceDischarge: ForceDischargeParams{
			StartDischargeAbove: 3660,
			DischargeAbove:      3640,
			BlockChargeAbove:    3450,
		},
		InitialMaxCharge:     40,
		InitialMaxDischarge:  40,
		MaxIncreasePerSecond: 0.1,
		ForceCurrent:         2,
	}
}

func (d Definition) Validate() error {
	var errs []error
	curves := map[string][]Point{
		"charge_voltage":        d.ChargeVoltage,
		"discharge_voltage":     d.DischargeVoltage,
		"charge_temperature":    d.ChargeTemperature,
		"discharge_temperature": d.DischargeTemperature,
	}
	for name, pts := range curves {
		if _, err := NewPolyLine(pts...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, pts := range map[string][]Point{"charge_soc": d.ChargeSoc, "discharge_soc": d.DischargeSoc} {
		if len(pts) == 0 {
			continue
		}
		if _, err := NewPolyLine(pts...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := d.ForceCharge.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := d.ForceDischarge.Validate(); err != nil {
		errs = append(errs, err)
	}
	if d.InitialMaxCharge < 0 || d.InitialMaxDischarge < 0 {
		errs = append(errs, errors.New("initial max currents must not be negative"))
	}
	if d.MaxIncreasePerSecond <= 0 {
		errs = append(errs, errors.New("max_increase_ampere_per_second must be positive"))
	}
	if d.ForceCurrent < 0 {
		errs = append(errs, errors.New("force_current must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseDefinition decodes a YAML definition on top of the defaults and validates it.
func ParseDefinition(data []byte) (Definition, error) {
	def := DefaultDefinition()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("protection definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("protection definition: %w", err)
	}
	return def, nil
}

func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	return ParseDefinition(data)
}

// Input is the per-cycle battery view. Nil fields are undefined.
type Input struct {
	MinCellVoltage         *float64
	MaxCellVoltage         *float64
	MinCellTemperature     *float64
	MaxCellTemperature     *float64
	Soc                    *float64
	BmsMaxChargeCurrent    *float64
	BmsMaxDischargeCurrent *float64
	Started                bool
}

type Output struct {
	ChargeLimit         float64
	DischargeLimit      float64
	AllowedCharge       float64
	AllowedDischarge    float64
	ForceChargeState    ForceState
	ForceDischargeState ForceState
	MaxEverCharge       float64
	MaxEverDischarge    float64
	Held                bool
}

// BatteryProtection derives the charge and discharge current limits of a battery.
// Force discharge overrides the charge limit and force charge the discharge limit.
type BatteryProtection struct {
	charge    *CurrentHandler
	discharge *CurrentHandler
}

func New(def Definition) (*BatteryProtection, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	optional := func(pts []Point) *PolyLine {
		if len(pts) == 0 {
			return nil
		}
		return MustPolyLine(pts...)
	}
	return &BatteryProtection{
		charge: newCurrentHandler(
			MustPolyLine(def.ChargeVoltage...),
			MustPolyLine(def.ChargeTemperature...),
			optional(def.ChargeSoc),
			&forceDischarge{params: def.ForceDischarge, current: def.ForceCurrent},
			def.InitialMaxCharge,
			def.MaxIncreasePerSecond,
		),
		discharge: newCurrentHandler(
			MustPolyLine(def.DischargeVoltage...),
			MustPolyLine(def.DischargeTemperature...),
			optional(def.DischargeSoc),
			&forceCharge{params: def.ForceCharge, current: def.ForceCurrent},
			def.InitialMaxDischarge,
			def.MaxIncreasePerSecond,
		),
	}, nil
}

func (p *BatteryProtection) Apply(in Input, now time.Time) Output {
	base := HandlerInput{
		MinCellVoltage:     in.MinCellVoltage,
		MaxCellVoltage:     in.MaxCellVoltage,
		MinCellTemperature: in.MinCellTemperature,
		MaxCellTemperature: in.MaxCellTemperature,
		Soc:                in.Soc,
		Started:            in.Started,
	}
	chargeIn := base
	chargeIn.BmsMaxCurrent = in.BmsMaxChargeCurrent
	dischargeIn := base
	dischargeIn.BmsMaxCurrent = in.BmsMaxDischargeCurrent

	c := p.charge.Apply(chargeIn, now)
	d := p.discharge.Apply(dischargeIn, now)
	return Output{
		ChargeLimit:         c.Limit,
		DischargeLimit:      d.Limit,
		AllowedCharge:       c.Allowed,
		AllowedDischarge:    d.Allowed,
		ForceChargeState:    d.ForceState,
		ForceDischargeState: c.ForceState,
		MaxEverCharge:       c.MaxEver,
		MaxEverDischarge:    d.MaxEver,
		Held:                c.Held || d.Held,
	}
}
