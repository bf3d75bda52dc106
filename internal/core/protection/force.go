package protection

import (
	"errors"
	"fmt"
)

var ErrInvalidThresholds = errors.New("invalid force thresholds")

type ForceState int

const (
	ForceUndefined ForceState = iota
	ForceWait
	ForceActive
	ForceBlock
)

func (s ForceState) String() string {
	switch s {
	case ForceWait:
		return "WAIT_FOR_FORCE_MODE"
	case ForceActive:
		return "FORCE_MODE"
	case ForceBlock:
		return "BLOCK_MODE"
	}
	return "UNDEFINED"
}

// ForceChargeParams are min cell voltages in mV: start < charge < block.
type ForceChargeParams struct {
	StartChargeBelow    float64 `yaml:"start_charge_below"`
	ChargeBelow         float64 `yaml:"charge_below"`
	BlockDischargeBelow float64 `yaml:"block_discharge_below"`
}

func (p ForceChargeParams) Validate() error {
	if !(p.StartChargeBelow < p.ChargeBelow && p.ChargeBelow < p.BlockDischargeBelow) {
		return fmt.Errorf("%w: force charge needs %v < %v < %v", ErrInvalidThresholds,
			p.StartChargeBelow, p.ChargeBelow, p.BlockDischargeBelow)
	}
	return nil
}

// ForceDischargeParams are max cell voltages in mV: start > discharge > block.
type ForceDischargeParams struct {
	StartDischargeAbove float64 `yaml:"start_discharge_above"`
	DischargeAbove      float64 `yaml:"discharge_above"`
	BlockChargeAbove    float64 `yaml:"block_charge_above"`
}

func (p ForceDischargeParams) Validate() error {
	if !(p.StartDischargeAbove > p.DischargeAbove && p.DischargeAbove > p.BlockChargeAbove) {
		return fmt.Errorf("%w: force discharge needs %v > %v > %v", ErrInvalidThresholds,
			p.StartDischargeAbove, p.DischargeAbove, p.BlockChargeAbove)
	}
	return nil
}

// forceMode overrides the opposite direction current limit near a voltage extreme.
type forceMode interface {
	// update advances the hysteresis and returns the override limit, if any.
	// Without both cell voltages the state is kept.
	update(minCellVoltage, maxCellVoltage *float64) (*float64, ForceState)
}

type forceCharge struct {
	params  ForceChargeParams
	current float64
	state   ForceState
}

func (f *forceCharge) update(minCellVoltage, maxCellVoltage *float64) (*float64, ForceState) {
	if minCellVoltage == nil || maxCellVoltage == nil {
		return overrideFor(f.state, f.current), f.state
	}
	v := *minCellVoltage
	switch f.state {
	case ForceUndefined, ForceWait:
		if v <= f.params.StartChargeBelow {
			f.state = ForceActive
		} else {
			f.state = ForceWait
		}
	case ForceActive:
		if v >= f.params.ChargeBelow {
			f.state = ForceBlock
		}
	case ForceBlock:
		if v <= f.params.StartChargeBelow {
			f.state = ForceActive
		} else if v >= f.params.BlockDischargeBelow {
			f.state = ForceWait
		}
	}
	return overrideFor(f.state, f.current), f.state
}

type forceDischarge struct {
	params  ForceDischargeParams
	current float64
	state   ForceState
}

func (f *forceDischarge) update(minCellVoltage, maxCellVoltage *float64) (*float64, ForceState) {
	if minCellVoltage == nil || maxCellVoltage == nil {
		return overrideFor(f.state, f.current), f.state
	}
	v := *maxCellVoltage
	switch f.state {
	case ForceUndefined, ForceWait:
		if v >= f.params.StartDischargeAbove {
			f.state = ForceActive
		} else {
			f.state = ForceWait
		}
	case ForceActive:
		if v <= f.params.DischargeAbove {
			f.state = ForceBlock
		}
	case ForceBlock:
		if v >= f.params.StartDischargeAbove {
			f.state = ForceActive
		} else if v <= f.params.BlockChargeAbove {
			f.state = ForceWait
		}
	}
	return overrideFor(f.state, f.current), f.state
}

// overrideFor returns a negative limit while forcing (current must flow the other way) and zero while blocking.
func overrideFor(state ForceState, current float64) *float64 {
	var v float64
	switch state {
	case ForceActive:
		v = -current
	case ForceBlock:
		v = 0
	default:
		return nil
	}
	return &v
}
