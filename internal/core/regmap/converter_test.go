package regmap

import (
	"math"
	"testing"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/stretchr/testify/require"
)

func TestScaleFactorRoundTrip(t *testing.T) {

	require := require.New(t)

	for _, exp := range []int{-3, -2, -1, 0, 1, 2} {
		c := ScaleFactor(exp)
		for _, raw := range []float64{0, 1, 7, 99, 1234, 32767, 65535, -1, -32768} {
			v, ok := c.Decode(raw)
			require.True(ok)
			back, err := c.Encode(v)
			require.NoError(err)
			require.LessOrEqual(math.Abs(back-raw), 1.0, "exp %d raw %v", exp, raw)
		}
	}
}

func TestIgnoreZeroBeforeStarted(t *testing.T) {

	require := require.New(t)

	tbl := channel.NewTable()
	started := tbl.Add(channel.Descriptor{Name: "STARTED", Kind: channel.KindBool})
	c := Chain(IgnoreZeroBeforeStarted(StartedIndicator(tbl, started)), ScaleFactor(-1))

	_, ok := c.Decode(0)
	require.False(ok, "undefined indicator suppresses zero")

	v, ok := c.Decode(5)
	require.True(ok)
	require.InDelta(0.5, v, 1e-9)

	tbl.Set(started, channel.BoolValue(false))
	_, ok = c.Decode(0)
	require.False(ok)

	tbl.Set(started, channel.BoolValue(true))
	v, ok = c.Decode(0)
	require.True(ok)
	require.Zero(v)

	raw, err := c.Encode(0.5)
	require.NoError(err)
	require.EqualValues(5, raw)
}

func TestInvertAndIgnoreLessThan(t *testing.T) {

	require := require.New(t)

	v, _ := Invert.Decode(0)
	require.EqualValues(1, v)
	v, _ = Invert.Decode(1)
	require.EqualValues(0, v)

	c := Chain(IgnoreLessThan(100), ScaleFactor(-1))
	_, ok := c.Decode(99)
	require.False(ok)
	v, ok = c.Decode(100)
	require.True(ok)
	require.InDelta(10, v, 1e-9)
}
