package regmap

import (
	"math"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
)

// Converter is a pure decode/encode function pair between a raw register number and a channel number.
// Decode returns false when the raw value must be suppressed.
type Converter struct {
	Decode func(raw float64) (float64, bool)
	Encode func(v float64) (float64, error)
}

var Direct = Converter{
	Decode: func(raw float64) (float64, bool) { return raw, true },
	Encode: func(v float64) (float64, error) { return v, nil },
}

// ScaleFactor multiplies by 10^exp on decode and divides on encode.
func ScaleFactor(exp int) Converter {
	if exp < 0 {
		// divide by the exact power of ten to keep decimal values exact where possible
		d := math.Pow(10, float64(-exp))
		return Converter{
			Decode: func(raw float64) (float64, bool) { return raw / d, true },
			Encode: func(v float64) (float64, error) { return math.Round(v * d), nil },
		}
	}
	f := math.Pow(10, float64(exp))
	return Converter{
		Decode: func(raw float64) (float64, bool) { return raw * f, true },
		Encode: func(v float64) (float64, error) { return math.Round(v / f), nil },
	}
}

var Invert = Converter{
	Decode: func(raw float64) (float64, bool) {
		if raw == 0 {
			return 1, true
		}
		return 0, true
	},
	Encode: func(v float64) (float64, error) {
		if v == 0 {
			return 1, nil
		}
		return 0, nil
	},
}

// IgnoreZeroBeforeStarted drops raw zeros while started reports false.
// Chain it before scaling so the check sees the raw register value.
func IgnoreZeroBeforeStarted(started func() bool) Converter {
	return Converter{
		Decode: func(raw float64) (float64, bool) {
			if raw == 0 && !started() {
				return 0, false
			}
			return raw, true
		},
		Encode: Direct.Encode,
	}
}

// IgnoreLessThan drops raw values below min.
func IgnoreLessThan(min float64) Converter {
	return Converter{
		Decode: func(raw float64) (float64, bool) {
			if raw < min {
				return 0, false
			}
			return raw, true
		},
		Encode: Direct.Encode,
	}
}

// StartedIndicator reads a boolean channel, undefined counts as not started.
func StartedIndicator(tbl *channel.Table, id channel.ID) func() bool {
	return func() bool {
		return tbl.Get(id).BoolOr(false)
	}
}

// Chain applies decoders left to right and encoders right to left.
func Chain(cs ...Converter) Converter {
	return Converter{
		Decode: func(raw float64) (float64, bool) {
			v := raw
			for _, c := range cs {
				var ok bool
				if v, ok = c.Decode(v); !ok {
					return 0, false
				}
			}
			return v, true
		},
		Encode: func(v float64) (float64, error) {
			r := v
			for i := len(cs) - 1; i >= 0; i-- {
				var err error
				if r, err = cs[i].Encode(r); err != nil {
					return 0, err
				}
			}
			return r, nil
		},
	}
}

func chainOf(cs []Converter) Converter {
	switch len(cs) {
	case 0:
		return Direct
	case 1:
		return cs[0]
	default:
		return Chain(cs...)
	}
}
