package optimizer

import (
	"math"
	"math/rand/v2"

	"github.com/boifi/recommender/internal/space"
)

// DefaultXi is the exploration margin subtracted from predicted improvement.
const DefaultXi = 0.01

// ExpectedImprovement scores each candidate: EI = i*Phi(z) + sigma*phi(z)
// with i = mean - best - xi and z = i/sigma. A candidate with zero sigma
// contributes nothing regardless of its mean.
func ExpectedImprovement(mean, sigma []float64, best, xi float64) []float64 {
	ei := make([]float64, len(mean))
	for i := range mean {
		if sigma[i] <= 0 {
			continue
		}
		improvement := mean[i] - best - xi
		z := improvement / sigma[i]
		ei[i] = improvement*normCDF(z) + sigma[i]*normPDF(z)
	}
	return ei
}

// SelectNext draws nCandidates uniform points, scores them by Expected
// Improvement, and returns the argmax. Ties break toward the first candidate.
// When no candidate has positive finite EI the selection degenerates and a
// fresh uniform sample is returned instead.
func SelectNext(sp *space.Space, forest *Forest, best float64, nCandidates int, rng *rand.Rand) space.Point {
	if nCandidates <= 0 {
		nCandidates = 1000
	}

	candidates := make([]space.Point, nCandidates)
	for i := range candidates {
		candidates[i] = sp.Sample(rng)
	}

	mean, sigma := forest.Predict(candidates)
	ei := ExpectedImprovement(mean, sigma, best, DefaultXi)

	bestIdx := -1
	bestEI := 0.0
	for i, v := range ei {
		if math.IsNaN(v) {
			continue
		}
		if v > bestEI {
			bestEI = v
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return sp.Sample(rng)
	}
	return candidates[bestIdx]
}

func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func normPDF(z float64) float64 {
	return math.Exp(-z*z/2) / math.Sqrt(2*math.Pi)
}
