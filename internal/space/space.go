// Package space models the typed domain of admissible fault plans and the
// bidirectional encoding between plans and fixed-width point vectors.
//
// Conditional dimensions use the expand strategy: every dimension always
// occupies a coordinate in the point vector, and a coordinate whose condition
// is unmet is pinned to the dimension's default. This keeps the vector shape
// fixed so the surrogate trains on a homogeneous matrix.
package space

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
)

// ErrInvalidSpace marks any search-space validation failure.
var ErrInvalidSpace = errors.New("invalid search space")

// Type is the shape of a dimension.
type Type string

const (
	TypeCategorical Type = "categorical"
	TypeInteger     Type = "integer"
	TypeReal        Type = "real"
)

// Condition restricts a dimension to points where another dimension holds a
// specific value.
type Condition struct {
	Field string `json:"field" yaml:"field"`
	Value any    `json:"value" yaml:"value"`
}

// Dimension is one axis of the search space.
type Dimension struct {
	Name      string     `json:"name" yaml:"name"`
	Type      Type       `json:"type" yaml:"type"`
	Values    []string   `json:"values,omitempty" yaml:"values,omitempty"`
	Bounds    []float64  `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Default   any        `json:"default" yaml:"default"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Space is an ordered list of dimensions, frozen at session creation.
type Space struct {
	Name        string           `json:"name" yaml:"name"`
	Dimensions  []Dimension      `json:"dimensions" yaml:"dimensions"`
	Constraints []map[string]any `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Point is one encoded position in the space: categorical coordinates carry
// the index into the value list, numeric coordinates carry the value itself.
type Point []float64

// Validate checks structural invariants. All failures wrap ErrInvalidSpace.
func (s *Space) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("%w: at least one dimension is required", ErrInvalidSpace)
	}

	names := make(map[string]bool, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("%w: dimension with empty name", ErrInvalidSpace)
		}
		if names[d.Name] {
			return fmt.Errorf("%w: duplicate dimension name %q", ErrInvalidSpace, d.Name)
		}
		names[d.Name] = true
	}

	for _, d := range s.Dimensions {
		if err := validateDimension(d); err != nil {
			return err
		}
		if d.Condition != nil && !names[d.Condition.Field] {
			return fmt.Errorf("%w: dimension %q depends on unknown dimension %q",
				ErrInvalidSpace, d.Name, d.Condition.Field)
		}
	}
	return nil
}

func validateDimension(d Dimension) error {
	switch d.Type {
	case TypeCategorical:
		if len(d.Values) < 2 {
			return fmt.Errorf("%w: dimension %q needs at least 2 values", ErrInvalidSpace, d.Name)
		}
		seen := make(map[string]bool, len(d.Values))
		for _, v := range d.Values {
			if seen[v] {
				return fmt.Errorf("%w: dimension %q has duplicate value %q", ErrInvalidSpace, d.Name, v)
			}
			seen[v] = true
		}
		def, ok := d.Default.(string)
		if !ok || !seen[def] {
			return fmt.Errorf("%w: dimension %q default %v is not in the value set", ErrInvalidSpace, d.Name, d.Default)
		}
	case TypeInteger, TypeReal:
		if len(d.Bounds) != 2 {
			return fmt.Errorf("%w: dimension %q needs bounds [low, high]", ErrInvalidSpace, d.Name)
		}
		if d.Bounds[0] >= d.Bounds[1] {
			return fmt.Errorf("%w: dimension %q bounds low %v must be less than high %v",
				ErrInvalidSpace, d.Name, d.Bounds[0], d.Bounds[1])
		}
		// Integer bounds must be whole numbers: Sample draws from the
		// truncated range, so fractional bounds would admit coordinates the
		// codec later rejects.
		if d.Type == TypeInteger &&
			(d.Bounds[0] != math.Trunc(d.Bounds[0]) || d.Bounds[1] != math.Trunc(d.Bounds[1])) {
			return fmt.Errorf("%w: dimension %q integer bounds must be whole numbers, got [%v, %v]",
				ErrInvalidSpace, d.Name, d.Bounds[0], d.Bounds[1])
		}
		def, ok := numeric(d.Default)
		if !ok || def < d.Bounds[0] || def > d.Bounds[1] {
			return fmt.Errorf("%w: dimension %q default %v is outside bounds [%v, %v]",
				ErrInvalidSpace, d.Name, d.Default, d.Bounds[0], d.Bounds[1])
		}
	default:
		return fmt.Errorf("%w: dimension %q has unknown type %q", ErrInvalidSpace, d.Name, d.Type)
	}
	return nil
}

// Sample draws one uniform point: categoricals over the value set, integers
// over the inclusive range, reals over the closed interval.
func (s *Space) Sample(rng *rand.Rand) Point {
	pt := make(Point, len(s.Dimensions))
	for i, d := range s.Dimensions {
		switch d.Type {
		case TypeCategorical:
			pt[i] = float64(rng.IntN(len(d.Values)))
		case TypeInteger:
			lo, hi := int(d.Bounds[0]), int(d.Bounds[1])
			pt[i] = float64(lo + rng.IntN(hi-lo+1))
		case TypeReal:
			pt[i] = d.Bounds[0] + rng.Float64()*(d.Bounds[1]-d.Bounds[0])
		}
	}
	return pt
}

func (d Dimension) defaultCoordinate() float64 {
	switch d.Type {
	case TypeCategorical:
		def, _ := d.Default.(string)
		for i, v := range d.Values {
			if v == def {
				return float64(i)
			}
		}
		return 0
	default:
		v, _ := numeric(d.Default)
		return v
	}
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}

// canon normalizes a value for condition comparisons, so 503 and 503.0 match.
func canon(v any) string {
	if f, ok := numeric(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
