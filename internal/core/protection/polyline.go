package protection

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrInvalidCurve = errors.New("invalid protection curve")

type Point struct {
	X float64
	Y float64
}

// UnmarshalYAML accepts both `[x, y]` and `{x: .., y: ..}`.
func (p *Point) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var xy []float64
		if err := value.Decode(&xy); err != nil {
			return err
		}
		if len(xy) != 2 {
			return fmt.Errorf("line %d: point needs exactly two numbers, got %d", value.Line, len(xy))
		}
		p.X, p.Y = xy[0], xy[1]
		return nil
	}
	var m struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
	}
	if err := value.Decode(&m); err != nil {
		return err
	}
	p.X, p.Y = m.X, m.Y
	return nil
}

// PolyLine is an immutable piecewise linear derating curve.
type PolyLine struct {
	points []Point
}

// NewPolyLine validates the breakpoints. Two points with the same x encode a vertical step.
func NewPolyLine(points ...Point) (*PolyLine, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidCurve, len(points))
	}
	for i, p := range points {
		if p.Y < 0 || p.Y > 1 {
			return nil, fmt.Errorf("%w: y=%v at point %d is outside [0,1]", ErrInvalidCurve, p.Y, i)
		}
		if i > 0 && p.X < points[i-1].X {
			return nil, fmt.Errorf("%w: x decreases at point %d (%v < %v)", ErrInvalidCurve, i, p.X, points[i-1].X)
		}
	}
	return &PolyLine{points: append([]Point(nil), points...)}, nil
}

func MustPolyLine(points ...Point) *PolyLine {
	p, err := NewPolyLine(points...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *PolyLine) Points() []Point {
	return append([]Point(nil), p.points...)
}

// Value evaluates the curve at x, clamping outside the breakpoint range.
// On a vertical step the later point wins.
func (p *PolyLine) Value(x float64) float64 {
	first, last := p.points[0], p.points[len(p.points)-1]
	if x < first.X {
		return first.Y
	}
	if x >= last.X {
		return last.Y
	}
	i := 0
	for j := range p.points {
		if p.points[j].X <= x {
			i = j
		}
	}
	a, b := p.points[i], p.points[i+1]
	return a.Y + (b.Y-a.Y)*(x-a.X)/(b.X-a.X)
}
