package space

import (
	"fmt"
	"math"
)

// Active reports whether dim participates given the full assignment. A
// dimension without a condition is always active; a conditional one is active
// only when the referenced dimension holds the required value.
func (s *Space) Active(dim Dimension, assign map[string]any) bool {
	if dim.Condition == nil {
		return true
	}
	got, ok := assign[dim.Condition.Field]
	if !ok {
		return false
	}
	return canon(got) == canon(dim.Condition.Value)
}

// Encode converts a dimension-name keyed assignment into a point. Inactive
// conditional dimensions are pinned to their defaults; active dimensions whose
// value is missing from the assignment also fall back to the default, which
// lets a space carry dimensions the plan does not model.
func (s *Space) Encode(assign map[string]any) (Point, error) {
	pt := make(Point, len(s.Dimensions))
	for i, d := range s.Dimensions {
		if !s.Active(d, assign) {
			pt[i] = d.defaultCoordinate()
			continue
		}
		v, ok := assign[d.Name]
		if !ok {
			pt[i] = d.defaultCoordinate()
			continue
		}
		coord, err := d.coordinate(v)
		if err != nil {
			return nil, err
		}
		pt[i] = coord
	}
	return pt, nil
}

func (d Dimension) coordinate(v any) (float64, error) {
	switch d.Type {
	case TypeCategorical:
		sv, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("dimension %q: expected string, got %T", d.Name, v)
		}
		for i, candidate := range d.Values {
			if candidate == sv {
				return float64(i), nil
			}
		}
		return 0, fmt.Errorf("dimension %q: value %q is not in the value set", d.Name, sv)
	case TypeInteger, TypeReal:
		f, ok := numeric(v)
		if !ok {
			return 0, fmt.Errorf("dimension %q: expected numeric, got %T", d.Name, v)
		}
		if f < d.Bounds[0] || f > d.Bounds[1] {
			return 0, fmt.Errorf("dimension %q: value %v outside bounds [%v, %v]",
				d.Name, f, d.Bounds[0], d.Bounds[1])
		}
		return f, nil
	}
	return 0, fmt.Errorf("dimension %q: unknown type %q", d.Name, d.Type)
}

// Decode converts a point back into an assignment. Integer coordinates are
// rounded and clamped to their bounds; inactive conditional dimensions are
// omitted from the result.
func (s *Space) Decode(pt Point) (map[string]any, error) {
	if len(pt) != len(s.Dimensions) {
		return nil, fmt.Errorf("point has %d coordinates, space has %d dimensions", len(pt), len(s.Dimensions))
	}

	// First pass materializes every coordinate so conditions can reference
	// dimensions in any order.
	full := make(map[string]any, len(s.Dimensions))
	for i, d := range s.Dimensions {
		v, err := d.value(pt[i])
		if err != nil {
			return nil, err
		}
		full[d.Name] = v
	}

	assign := make(map[string]any, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if s.Active(d, full) {
			assign[d.Name] = full[d.Name]
		}
	}
	return assign, nil
}

func (d Dimension) value(coord float64) (any, error) {
	switch d.Type {
	case TypeCategorical:
		idx := int(math.Round(coord))
		if idx < 0 || idx >= len(d.Values) {
			return nil, fmt.Errorf("dimension %q: index %d outside value set of size %d", d.Name, idx, len(d.Values))
		}
		return d.Values[idx], nil
	case TypeInteger:
		v := int(math.Round(coord))
		if v < int(d.Bounds[0]) {
			v = int(d.Bounds[0])
		}
		if v > int(d.Bounds[1]) {
			v = int(d.Bounds[1])
		}
		return v, nil
	case TypeReal:
		return coord, nil
	}
	return nil, fmt.Errorf("dimension %q: unknown type %q", d.Name, d.Type)
}
