package space

import (
	"math/rand/v2"
	"testing"
)

func faultSpace() *Space {
	return &Space{
		Name: "delay-abort",
		Dimensions: []Dimension{
			{Name: "fault_type", Type: TypeCategorical, Values: []string{"delay", "abort"}, Default: "delay"},
			{Name: "percentage", Type: TypeInteger, Bounds: []float64{1, 100}, Default: 50},
			{
				Name: "delay_ms", Type: TypeInteger, Bounds: []float64{10, 5000}, Default: 100,
				Condition: &Condition{Field: "fault_type", Value: "delay"},
			},
			{
				Name: "abort_status", Type: TypeInteger, Bounds: []float64{400, 599}, Default: 503,
				Condition: &Condition{Field: "fault_type", Value: "abort"},
			},
		},
	}
}

func TestSpace_Validate(t *testing.T) {
	if err := faultSpace().Validate(); err != nil {
		t.Fatalf("valid space rejected: %v", err)
	}
}

func TestSpace_ValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		sp   Space
	}{
		{"no dimensions", Space{Name: "empty"}},
		{"duplicate names", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeReal, Bounds: []float64{0, 1}, Default: 0.5},
			{Name: "a", Type: TypeReal, Bounds: []float64{0, 1}, Default: 0.5},
		}}},
		{"single categorical value", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeCategorical, Values: []string{"only"}, Default: "only"},
		}}},
		{"default not in value set", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeCategorical, Values: []string{"x", "y"}, Default: "z"},
		}}},
		{"inverted bounds", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeInteger, Bounds: []float64{10, 1}, Default: 5},
		}}},
		{"default outside bounds", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeReal, Bounds: []float64{0, 1}, Default: 2.0},
		}}},
		{"fractional integer bounds", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeInteger, Bounds: []float64{0.5, 9.5}, Default: 5},
		}}},
		{"condition on unknown dimension", Space{Dimensions: []Dimension{
			{Name: "a", Type: TypeReal, Bounds: []float64{0, 1}, Default: 0.5,
				Condition: &Condition{Field: "ghost", Value: "x"}},
		}}},
	}
	for _, tc := range cases {
		if err := tc.sp.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestSpace_IntegerSamplesAlwaysReencode(t *testing.T) {
	// Fractional integer bounds are rejected up front, so every sampled
	// integer coordinate must survive the encode path.
	sp := faultSpace()
	rng := rand.New(rand.NewPCG(9, 0))

	for i := 0; i < 100; i++ {
		pt := sp.Sample(rng)
		assign, err := sp.Decode(pt)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, err := sp.Encode(assign); err != nil {
			t.Fatalf("sampled point failed to re-encode: %v", err)
		}
	}
}

func TestSpace_SampleWithinBounds(t *testing.T) {
	sp := faultSpace()
	rng := rand.New(rand.NewPCG(42, 0))

	for i := 0; i < 200; i++ {
		pt := sp.Sample(rng)
		if len(pt) != len(sp.Dimensions) {
			t.Fatalf("point width %d, want %d", len(pt), len(sp.Dimensions))
		}
		if pt[0] != 0 && pt[0] != 1 {
			t.Fatalf("categorical coordinate %v is not a valid index", pt[0])
		}
		if pt[1] < 1 || pt[1] > 100 {
			t.Fatalf("percentage %v out of bounds", pt[1])
		}
		if pt[2] < 10 || pt[2] > 5000 {
			t.Fatalf("delay_ms %v out of bounds", pt[2])
		}
	}
}

func TestSpace_SampleDeterministic(t *testing.T) {
	sp := faultSpace()
	a := rand.New(rand.NewPCG(7, 0))
	b := rand.New(rand.NewPCG(7, 0))

	for i := 0; i < 20; i++ {
		pa, pb := sp.Sample(a), sp.Sample(b)
		for j := range pa {
			if pa[j] != pb[j] {
				t.Fatalf("sample %d diverged at coordinate %d: %v vs %v", i, j, pa[j], pb[j])
			}
		}
	}
}

func TestCodec_EncodeDecodeActiveDimensions(t *testing.T) {
	sp := faultSpace()

	assign := map[string]any{
		"fault_type": "delay",
		"percentage": 30,
		"delay_ms":   250,
	}
	pt, err := sp.Encode(assign)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := sp.Decode(pt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["fault_type"] != "delay" {
		t.Fatalf("fault_type: %v", got["fault_type"])
	}
	if got["percentage"] != 30 {
		t.Fatalf("percentage: %v", got["percentage"])
	}
	if got["delay_ms"] != 250 {
		t.Fatalf("delay_ms: %v", got["delay_ms"])
	}
	// abort_status is inactive for delay plans and must not surface.
	if _, ok := got["abort_status"]; ok {
		t.Fatal("inactive dimension leaked into assignment")
	}
}

func TestCodec_InactiveDimensionPinnedToDefault(t *testing.T) {
	sp := faultSpace()
	pt, err := sp.Encode(map[string]any{
		"fault_type":   "abort",
		"percentage":   10,
		"abort_status": 500,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// delay_ms is inactive; its coordinate must hold the default.
	if pt[2] != 100 {
		t.Fatalf("inactive delay_ms coordinate = %v, want default 100", pt[2])
	}
}

func TestCodec_DecodeClampsIntegers(t *testing.T) {
	sp := faultSpace()
	pt := Point{0, 150, 400, 503}

	got, err := sp.Decode(pt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["percentage"] != 100 {
		t.Fatalf("percentage should clamp to 100, got %v", got["percentage"])
	}
}
