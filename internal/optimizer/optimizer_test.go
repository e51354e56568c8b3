package optimizer

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boifi/recommender/internal/space"
)

func testSpace(t *testing.T) *space.Space {
	t.Helper()
	sp := &space.Space{
		Name: "http-faults",
		Dimensions: []space.Dimension{
			{Name: "fault_type", Type: space.TypeCategorical, Values: []string{"delay", "abort"}, Default: "delay"},
			{Name: "percentage", Type: space.TypeInteger, Bounds: []float64{1, 100}, Default: 50},
			{
				Name: "delay_ms", Type: space.TypeInteger, Bounds: []float64{10, 5000}, Default: 100,
				Condition: &space.Condition{Field: "fault_type", Value: "delay"},
			},
			{
				Name: "abort_status", Type: space.TypeInteger, Bounds: []float64{400, 599}, Default: 503,
				Condition: &space.Condition{Field: "fault_type", Value: "abort"},
			},
		},
	}
	require.NoError(t, sp.Validate())
	return sp
}

func TestForest_UnfittedPredicts(t *testing.T) {
	f := NewForest(10, 1)
	mean, sigma := f.Predict([]space.Point{{0, 50, 100, 503}})
	require.Equal(t, 0.0, mean[0])
	require.Equal(t, 1.0, sigma[0])
}

func TestForest_FitLearnsSplit(t *testing.T) {
	// Score depends only on the second coordinate: high percentage hurts.
	var X []space.Point
	var y []float64
	rng := rand.New(rand.NewPCG(3, 0))
	for i := 0; i < 60; i++ {
		pct := float64(1 + rng.IntN(100))
		X = append(X, space.Point{float64(rng.IntN(2)), pct, 100, 503})
		if pct > 50 {
			y = append(y, 9)
		} else {
			y = append(y, 1)
		}
	}

	f := NewForest(30, 7)
	f.Fit(X, y)

	mean, _ := f.Predict([]space.Point{
		{0, 90, 100, 503},
		{0, 10, 100, 503},
	})
	require.Greater(t, mean[0], 6.0, "high-percentage prediction")
	require.Less(t, mean[1], 4.0, "low-percentage prediction")
}

func TestForest_FitDeterministicPerSeed(t *testing.T) {
	X := []space.Point{{0, 10, 100, 503}, {1, 90, 100, 503}, {0, 50, 200, 500}, {1, 30, 300, 404}}
	y := []float64{1, 9, 5, 3}

	a, b := NewForest(20, 11), NewForest(20, 11)
	a.Fit(X, y)
	b.Fit(X, y)

	probe := []space.Point{{0, 42, 150, 450}}
	ma, _ := a.Predict(probe)
	mb, _ := b.Predict(probe)
	require.Equal(t, ma[0], mb[0])
}

func TestExpectedImprovement(t *testing.T) {
	ei := ExpectedImprovement([]float64{5}, []float64{1}, 3, DefaultXi)
	require.InDelta(t, 1.9988, ei[0], 0.001)

	// Zero sigma contributes nothing regardless of the mean.
	ei = ExpectedImprovement([]float64{100}, []float64{0}, 3, DefaultXi)
	require.Equal(t, 0.0, ei[0])
}

func TestSelectNext_ReturnsValidPoint(t *testing.T) {
	sp := testSpace(t)
	rng := rand.New(rand.NewPCG(5, 0))

	f := NewForest(10, 5)
	// Unfitted forest: every candidate has sigma 1, mean 0; EI still ranks.
	pt := SelectNext(sp, f, 0, 50, rng)
	require.Len(t, pt, len(sp.Dimensions))
	_, err := sp.Decode(pt)
	require.NoError(t, err)
}

func TestProposer_ColdStartDeterministic(t *testing.T) {
	sp := testSpace(t)
	opts := Options{Seed: SeedFor("01J9TESTSESSION"), ColdStartN: 5, Service: "svc"}

	a := NewProposer(sp, opts, nil)
	b := NewProposer(sp, opts, nil)

	for i := 0; i < 5; i++ {
		pa, err := a.Propose()
		require.NoError(t, err)
		pb, err := b.Propose()
		require.NoError(t, err)
		require.Equal(t, pa, pb, "cold-start proposal %d", i)
		require.NoError(t, pa.Validate())
	}
}

func TestProposer_SwitchesToSurrogateAfterColdStart(t *testing.T) {
	sp := testSpace(t)
	p := NewProposer(sp, Options{Seed: 42, ColdStartN: 3, Candidates: 100, NumTrees: 10, Service: "svc"}, nil)

	for i := 0; i < 6; i++ {
		plan, err := p.Propose()
		require.NoError(t, err)
		require.NoError(t, p.Record(plan, float64(i)))
	}
	require.Equal(t, 6, p.History())
	require.Equal(t, 5.0, p.Best())
}

func TestProposer_BestTracksMaximum(t *testing.T) {
	sp := testSpace(t)
	p := NewProposer(sp, Options{Seed: 1, Service: "svc"}, nil)

	scores := []float64{2, 8, 5}
	for _, s := range scores {
		plan, err := p.Propose()
		require.NoError(t, err)
		require.NoError(t, p.Record(plan, s))
	}
	require.Equal(t, 8.0, p.Best())
}

func TestSeedFor_StableAndDistinct(t *testing.T) {
	require.Equal(t, SeedFor("session-a"), SeedFor("session-a"))
	require.NotEqual(t, SeedFor("session-a"), SeedFor("session-b"))
}
