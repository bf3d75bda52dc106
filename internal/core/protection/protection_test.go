package protection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 {
	return &v
}

var chargeCurve = []Point{{3000, 0.1}, {3485, 1}, {3570, 0.01}, {3600, 0}}

func TestPolyLineClamping(t *testing.T) {

	require := require.New(t)

	c := MustPolyLine(chargeCurve...)

	require.Equal(0.1, c.Value(2000))
	require.Equal(0.0, c.Value(4000))
	for _, p := range chargeCurve {
		require.Equal(p.Y, c.Value(p.X), "breakpoint %v", p.X)
	}
	require.InDelta(0.55, c.Value(3242.5), 1e-9)
	require.InDelta(1-0.99*5/85, c.Value(3490), 1e-9)
}

func TestPolyLineStep(t *testing.T) {

	require := require.New(t)

	c := MustPolyLine(Point{0, 1}, Point{10, 1}, Point{10, 0}, Point{20, 0})
	require.Len(c.Points(), 4)
	require.Equal(1.0, c.Value(9.999))
	require.Equal(0.0, c.Value(10))
	require.Equal(0.0, c.Value(15))
}

func TestPolyLineValidation(t *testing.T) {

	require := require.New(t)

	_, err := NewPolyLine(Point{0, 1})
	require.ErrorIs(err, ErrInvalidCurve)
	_, err = NewPolyLine(Point{10, 1}, Point{0, 1})
	require.ErrorIs(err, ErrInvalidCurve)
	_, err = NewPolyLine(Point{0, 1.5}, Point{1, 1})
	require.ErrorIs(err, ErrInvalidCurve)
}

func testDefinition() Definition {
	def := DefaultDefinition()
	def.InitialMaxCharge = 100
	def.InitialMaxDischarge = 100
	def.MaxIncreasePerSecond = 1
	return def
}

func input(minV, maxV float64) Input {
	return Input{
		MinCellVoltage:     f(minV),
		MaxCellVoltage:     f(maxV),
		MinCellTemperature: f(25),
		MaxCellTemperature: f(25),
		Started:            true,
	}
}

func TestEndToEndChargeDerating(t *testing.T) {

	require := require.New(t)

	p, err := New(testDefinition())
	require.NoError(err)

	now := time.Now()
	out := p.Apply(input(3490, 3490), now)
	require.InDelta(94.18, out.AllowedCharge, 0.01)
	require.Zero(out.ChargeLimit, "first cycle starts the ramp at zero")

	// ramp up for a while
	for i := 1; i <= 200; i++ {
		out = p.Apply(input(3490, 3490), now.Add(time.Duration(i)*time.Second))
	}
	require.InDelta(94.18, out.ChargeLimit, 0.01)

	out = p.Apply(input(3600, 3600), now.Add(201*time.Second))
	require.Zero(out.AllowedCharge)
	require.Zero(out.ChargeLimit, "decreases are immediate")
}

func TestSlewLimiting(t *testing.T) {

	require := require.New(t)

	p, err := New(testDefinition())
	require.NoError(err)

	now := time.Now()
	prev := p.Apply(input(3300, 3300), now).ChargeLimit
	for i := 1; i < 50; i++ {
		dt := time.Duration(i%3+1) * time.Second
		now = now.Add(dt)
		cur := p.Apply(input(3300, 3300), now).ChargeLimit
		if cur > prev {
			require.LessOrEqual(cur-prev, 1*dt.Seconds()+1e-9)
		}
		prev = cur
	}
	require.Greater(prev, 0.0)
}

func TestRatchetMonotonic(t *testing.T) {

	require := require.New(t)

	def := testDefinition()
	def.InitialMaxCharge = 40
	p, err := New(def)
	require.NoError(err)

	now := time.Now()
	expected := 40.0
	for i, m := range []float64{10, 55, 30, 80, 79, 0} {
		in := input(3300, 3300)
		in.BmsMaxChargeCurrent = f(m)
		out := p.Apply(in, now.Add(time.Duration(i)*time.Second))
		if m > expected {
			expected = m
		}
		require.Equal(expected, out.MaxEverCharge)
	}
}

func TestMissingInputsHoldLimit(t *testing.T) {

	require := require.New(t)

	p, err := New(testDefinition())
	require.NoError(err)

	now := time.Now()
	for i := 0; i < 20; i++ {
		p.Apply(input(3300, 3300), now.Add(time.Duration(i)*time.Second))
	}
	held := p.Apply(input(3300, 3300), now.Add(20*time.Second))
	require.Greater(held.ChargeLimit, 0.0)

	in := input(3300, 3300)
	in.MaxCellTemperature = nil
	out := p.Apply(in, now.Add(21*time.Second))
	require.True(out.Held)
	require.Equal(held.ChargeLimit, out.ChargeLimit)
	require.Equal(held.DischargeLimit, out.DischargeLimit)

	stopped := input(3300, 3300)
	stopped.Started = false
	out = p.Apply(stopped, now.Add(22*time.Second))
	require.Zero(out.ChargeLimit)
}

func TestForceChargeHysteresis(t *testing.T) {

	require := require.New(t)

	def := testDefinition()
	p, err := New(def)
	require.NoError(err)

	now := time.Now()
	step := func(minV float64) Output {
		now = now.Add(time.Second)
		return p.Apply(input(minV, minV+50), now)
	}

	require.Equal(ForceWait, step(3100).ForceChargeState)
	out := step(2850)
	require.Equal(ForceActive, out.ForceChargeState)
	require.Equal(-def.ForceCurrent, out.DischargeLimit)
	// still forcing inside the band
	require.Equal(ForceActive, step(2900).ForceChargeState)
	out = step(2910)
	require.Equal(ForceBlock, out.ForceChargeState)
	require.Zero(out.AllowedDischarge)
	require.LessOrEqual(out.DischargeLimit, 0.0, "leaving force mode ramps up")
	require.Equal(ForceBlock, step(2990).ForceChargeState)
	require.Equal(ForceActive, step(2840).ForceChargeState)
	step(2920)
	require.Equal(ForceWait, step(3000).ForceChargeState)

	in := input(3000, 3000)
	in.MinCellVoltage = nil
	require.Equal(ForceWait, p.Apply(in, now.Add(time.Second)).ForceChargeState, "state is kept without a reading")
}

func TestForceChargeSurvivesMissingReading(t *testing.T) {

	require := require.New(t)

	def := testDefinition()
	p, err := New(def)
	require.NoError(err)

	now := time.Now()
	step := func(in Input) Output {
		now = now.Add(time.Second)
		return p.Apply(in, now)
	}

	out := step(input(2840, 2890))
	require.Equal(ForceActive, out.ForceChargeState)
	require.Equal(-def.ForceCurrent, out.DischargeLimit)

	missing := input(2840, 2890)
	missing.MinCellVoltage = nil
	missing.MaxCellVoltage = nil
	out = step(missing)
	require.Equal(ForceActive, out.ForceChargeState)
	require.Equal(-def.ForceCurrent, out.DischargeLimit)

	// still below the recover threshold
	out = step(input(2880, 2930))
	require.Equal(ForceActive, out.ForceChargeState)
	require.Equal(-def.ForceCurrent, out.DischargeLimit)
}

func TestBmsMaxCurrentCapsLimit(t *testing.T) {

	require := require.New(t)

	p, err := New(testDefinition())
	require.NoError(err)

	now := time.Now()
	in := input(3490, 3490)
	in.BmsMaxChargeCurrent = f(100)
	var out Output
	for i := 0; i <= 200; i++ {
		out = p.Apply(in, now.Add(time.Duration(i)*time.Second))
	}
	require.InDelta(94.18, out.ChargeLimit, 0.01)

	in.BmsMaxChargeCurrent = f(25)
	out = p.Apply(in, now.Add(201*time.Second))
	require.Equal(100.0, out.MaxEverCharge)
	require.Equal(25.0, out.AllowedCharge)
	require.Equal(25.0, out.ChargeLimit)

	// no BMS value leaves only the curves
	in.BmsMaxChargeCurrent = nil
	out = p.Apply(in, now.Add(202*time.Second))
	require.InDelta(94.18, out.AllowedCharge, 0.01)
}

func TestVoltageDeratingOnlyDecreases(t *testing.T) {

	require := require.New(t)

	p, err := New(testDefinition())
	require.NoError(err)

	now := time.Now()
	step := func(v float64) Output {
		now = now.Add(time.Second)
		return p.Apply(input(v, v), now)
	}

	derated := step(3300).AllowedCharge
	require.InDelta(100*(0.1+0.9*300/485), derated, 1e-6)
	require.InDelta(derated, step(3400).AllowedCharge, 1e-9, "rising voltage keeps the derated limit")
	lower := step(3200).AllowedCharge
	require.Less(lower, derated)
	require.InDelta(lower, step(3300).AllowedCharge, 1e-9)

	require.Equal(100.0, step(3485).AllowedCharge, "unlimited zone releases the latch")
	require.InDelta(derated, step(3300).AllowedCharge, 1e-6)
}

func TestForceDischargeHysteresis(t *testing.T) {

	require := require.New(t)

	def := testDefinition()
	p, err := New(def)
	require.NoError(err)

	now := time.Now()
	step := func(maxV float64) Output {
		now = now.Add(time.Second)
		return p.Apply(input(3300, maxV), now)
	}

	require.Equal(ForceWait, step(3400).ForceDischargeState)
	out := step(3660)
	require.Equal(ForceActive, out.ForceDischargeState)
	require.Equal(-def.ForceCurrent, out.ChargeLimit)
	out = step(3640)
	require.Equal(ForceBlock, out.ForceDischargeState)
	require.Zero(out.AllowedCharge)
	require.Equal(ForceWait, step(3450).ForceDischargeState)
}

func TestDefinitionValidation(t *testing.T) {

	require := require.New(t)

	def := DefaultDefinition()
	require.NoError(def.Validate())

	def.ChargeVoltage = def.ChargeVoltage[:1]
	_, err := New(def)
	require.ErrorIs(err, ErrInvalidCurve)

	def = DefaultDefinition()
	def.ForceCharge.ChargeBelow = 4000
	_, err = New(def)
	require.ErrorIs(err, ErrInvalidThresholds)
}

func TestParseDefinition(t *testing.T) {

	require := require.New(t)

	def, err := ParseDefinition([]byte(`
charge_voltage:
  - [3000, 0.2]
  - {x: 3500, y: 1}
  - [3600, 0]
initial_max_charge_current: 55
force_charge:
  start_charge_below: 2800
  charge_below: 2900
  block_discharge_below: 2950
`))
	require.NoError(err)
	require.Equal([]Point{{3000, 0.2}, {3500, 1}, {3600, 0}}, def.ChargeVoltage)
	require.Equal(55.0, def.InitialMaxCharge)
	require.Equal(2800.0, def.ForceCharge.StartChargeBelow)
	require.Equal(DefaultDefinition().DischargeVoltage, def.DischargeVoltage)

	_, err = ParseDefinition([]byte("charge_voltage: [[1, 0]]\n"))
	require.ErrorIs(err, ErrInvalidCurve)

	_, err = ParseDefinition([]byte("unknown_key: 1\n"))
	require.Error(err)
}
