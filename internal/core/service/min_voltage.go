package service

import (
	"math"
	"time"

	"go.uber.org/zap"
)

type minVoltageState int

const (
	minVoltageAbove minVoltageState = iota
	minVoltageBelow
	minVoltageBelowCharging
)

// minVoltageInput is the view of the battery the supervisor needs.
type minVoltageInput struct {
	MinCellVoltage *int64
	Current        *float64
	Stopped        bool
}

type minVoltageFlags struct {
	Warning        bool
	Fault          bool
	FaultNoRestart bool
}

// minVoltageSupervisor raises a warning while the lowest cell stays below the critical voltage and turns it
// into a fault when it stays there without being charged for longer than timeout.
type minVoltageSupervisor struct {
	limit   int64
	timeout time.Duration
	logger  *zap.Logger

	belowSince time.Time
	flags      minVoltageFlags
}

func newMinVoltageSupervisor(limit int64, timeout time.Duration, logger *zap.Logger) *minVoltageSupervisor {
	return &minVoltageSupervisor{limit: limit, timeout: timeout, logger: logger}
}

func (s *minVoltageSupervisor) classify(in minVoltageInput) minVoltageState {
	minV := int64(math.MaxInt32)
	if in.MinCellVoltage != nil {
		minV = *in.MinCellVoltage
	}
	current := 0.0
	if in.Current != nil {
		current = *in.Current
	}
	switch {
	case minV > s.limit:
		return minVoltageAbove
	case current < 0:
		return minVoltageBelowCharging
	default:
		return minVoltageBelow
	}
}

func (s *minVoltageSupervisor) check(in minVoltageInput, now time.Time) minVoltageFlags {
	switch s.classify(in) {
	case minVoltageAbove:
		s.belowSince = time.Time{}
		s.flags = minVoltageFlags{}

	case minVoltageBelow:
		if in.Stopped {
			// the grace period restarts with the next start
			s.belowSince = time.Time{}
			s.flags = minVoltageFlags{FaultNoRestart: true}
			return s.flags
		}
		if s.belowSince.IsZero() {
			s.belowSince = now
			s.logger.Warn("battery@min_voltage: cell voltage below critical limit",
				zap.Int64("limit", s.limit), zap.Int64p("min_cell_voltage", in.MinCellVoltage))
		}
		if now.Sub(s.belowSince) > s.timeout {
			if !s.flags.Fault {
				s.logger.Error("battery@min_voltage: cell voltage too low for too long", zap.Duration("timeout", s.timeout))
			}
			s.flags = minVoltageFlags{Fault: true}
		} else {
			s.flags = minVoltageFlags{Warning: true}
		}

	case minVoltageBelowCharging:
		s.belowSince = time.Time{}
		s.flags = minVoltageFlags{Warning: true}
	}
	return s.flags
}
