package protection

import (
	"math"
	"time"
)

// HandlerInput is the per-cycle view of the battery. Nil means undefined.
type HandlerInput struct {
	MinCellVoltage     *float64
	MaxCellVoltage     *float64
	MinCellTemperature *float64
	MaxCellTemperature *float64
	Soc                *float64
	BmsMaxCurrent      *float64
	Started            bool
}

type HandlerOutput struct {
	// Limit is the published, slew limited value.
	Limit float64
	// Allowed is the limit before slew limiting.
	Allowed    float64
	MaxEver    float64
	ForceState ForceState
	// Held is true when inputs were missing and the previous limit was kept.
	Held bool
}

// CurrentHandler computes the current limit of one direction (charge or discharge).
type CurrentHandler struct {
	voltage              *PolyLine
	temperature          *PolyLine
	soc                  *PolyLine
	force                forceMode
	maxIncreasePerSecond float64

	maxEver float64

	// voltage derating only decreases until the curve is back at 1
	minVoltageLatch voltageLatch
	maxVoltageLatch voltageLatch

	published float64
	lastAt    time.Time
}

func newCurrentHandler(voltage, temperature, soc *PolyLine, force forceMode, initialMaxEver, maxIncreasePerSecond float64) *CurrentHandler {
	return &CurrentHandler{
		voltage:              voltage,
		temperature:          temperature,
		soc:                  soc,
		force:                force,
		maxIncreasePerSecond: maxIncreasePerSecond,
		maxEver:              initialMaxEver,
	}
}

func (h *CurrentHandler) MaxEver() float64 {
	return h.maxEver
}

// ratchet raises the never-exceed ceiling, it is never lowered.
func (h *CurrentHandler) ratchet(reported *float64) {
	if reported != nil && *reported > h.maxEver {
		h.maxEver = *reported
	}
}

func (h *CurrentHandler) Apply(in HandlerInput, now time.Time) HandlerOutput {
	h.ratchet(in.BmsMaxCurrent)

	override, forceState := h.force.update(in.MinCellVoltage, in.MaxCellVoltage)

	elapsed := 0.0
	if !h.lastAt.IsZero() {
		elapsed = now.Sub(h.lastAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
	}
	h.lastAt = now

	if in.MinCellVoltage == nil || in.MaxCellVoltage == nil || in.MinCellTemperature == nil || in.MaxCellTemperature == nil {
		return HandlerOutput{Limit: h.published, Allowed: h.published, MaxEver: h.maxEver, ForceState: forceState, Held: true}
	}

	fraction := math.Min(h.temperature.Value(*in.MinCellTemperature), h.temperature.Value(*in.MaxCellTemperature))
	if h.soc != nil && in.Soc != nil {
		fraction = math.Min(fraction, h.soc.Value(*in.Soc))
	}

	allowed := h.maxEver * fraction
	allowed = math.Min(allowed, h.minVoltageLatch.limit(h.voltage.Value(*in.MinCellVoltage), h.maxEver))
	allowed = math.Min(allowed, h.maxVoltageLatch.limit(h.voltage.Value(*in.MaxCellVoltage), h.maxEver))
	if in.BmsMaxCurrent != nil {
		allowed = math.Min(allowed, math.Max(*in.BmsMaxCurrent, 0))
	}
	if override != nil {
		allowed = math.Min(allowed, *override)
	}
	if !in.Started {
		allowed = 0
	}

	limit := allowed
	if limit > h.published {
		limit = math.Min(limit, h.published+h.maxIncreasePerSecond*elapsed)
	}
	h.published = limit

	return HandlerOutput{Limit: limit, Allowed: allowed, MaxEver: h.maxEver, ForceState: forceState}
}

type voltageLatch struct {
	active bool
	value  float64
}

// limit converts a voltage curve fraction to amperes. Below 1 the result is the lowest limit seen since the
// curve last left its unlimited zone.
func (l *voltageLatch) limit(fraction, maxEver float64) float64 {
	current := maxEver * fraction
	if fraction >= 1 {
		l.active = false
		return current
	}
	if !l.active || current < l.value {
		l.active = true
		l.value = current
	}
	return l.value
}
