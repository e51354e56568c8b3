// Package optimizer implements the surrogate-guided proposer: a bootstrap
// ensemble of regression trees for severity prediction with uncertainty, an
// Expected Improvement acquisition function, and the candidate selector that
// ties them together.
package optimizer

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/boifi/recommender/internal/space"
)

// Forest is a bagged ensemble of regression trees. Bootstrap resampling and
// per-split feature subsampling keep per-tree predictions diverging, which is
// what gives the ensemble a usable standard deviation.
type Forest struct {
	NumTrees int
	MaxDepth int
	MinLeaf  int

	seed   uint64
	trees  []*treeNode
	fitted bool
}

// NewForest returns an unfitted forest. Predictions from an unfitted forest
// are mean 0, sigma 1 for every row.
func NewForest(numTrees int, seed uint64) *Forest {
	if numTrees <= 0 {
		numTrees = 100
	}
	return &Forest{
		NumTrees: numTrees,
		MaxDepth: 8,
		MinLeaf:  2,
		seed:     seed,
	}
}

// Fit trains the ensemble on the history matrix. Fewer than two rows is a
// no-op; refitting replaces all trees deterministically for a given seed.
func (f *Forest) Fit(X []space.Point, y []float64) {
	if len(X) < 2 || len(X) != len(y) {
		return
	}

	f.trees = make([]*treeNode, f.NumTrees)
	for t := 0; t < f.NumTrees; t++ {
		rng := rand.New(rand.NewPCG(f.seed, uint64(t)))

		sample := make([]int, len(X))
		for i := range sample {
			sample[i] = rng.IntN(len(X))
		}
		f.trees[t] = f.build(X, y, sample, 0, rng)
	}
	f.fitted = true
}

// Predict returns the ensemble mean and standard deviation for each row.
func (f *Forest) Predict(X []space.Point) (mean, sigma []float64) {
	mean = make([]float64, len(X))
	sigma = make([]float64, len(X))
	if !f.fitted {
		for i := range sigma {
			sigma[i] = 1
		}
		return mean, sigma
	}

	for i, pt := range X {
		var sum, sumSq float64
		for _, tree := range f.trees {
			p := tree.predict(pt)
			sum += p
			sumSq += p * p
		}
		n := float64(len(f.trees))
		m := sum / n
		variance := sumSq/n - m*m
		if variance < 0 {
			variance = 0
		}
		mean[i] = m
		sigma[i] = math.Sqrt(variance)
	}
	return mean, sigma
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

func (n *treeNode) predict(pt space.Point) float64 {
	for !n.leaf {
		if pt[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (f *Forest) build(X []space.Point, y []float64, rows []int, depth int, rng *rand.Rand) *treeNode {
	m := meanOf(y, rows)
	if depth >= f.MaxDepth || len(rows) <= f.MinLeaf || sse(y, rows, m) == 0 {
		return &treeNode{leaf: true, value: m}
	}

	feature, threshold, ok := f.bestSplit(X, y, rows, rng)
	if !ok {
		return &treeNode{leaf: true, value: m}
	}

	var left, right []int
	for _, r := range rows {
		if X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{leaf: true, value: m}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      f.build(X, y, left, depth+1, rng),
		right:     f.build(X, y, right, depth+1, rng),
	}
}

// bestSplit searches a random sqrt-sized feature subset for the threshold that
// minimizes the summed squared error of the two children.
func (f *Forest) bestSplit(X []space.Point, y []float64, rows []int, rng *rand.Rand) (feature int, threshold float64, ok bool) {
	dims := len(X[0])
	k := int(math.Ceil(math.Sqrt(float64(dims))))
	perm := rng.Perm(dims)

	best := math.Inf(1)
	for _, feat := range perm[:k] {
		values := make([]float64, 0, len(rows))
		for _, r := range rows {
			values = append(values, X[r][feat])
		}
		sort.Float64s(values)

		for i := 1; i < len(values); i++ {
			if values[i] == values[i-1] {
				continue
			}
			thr := (values[i] + values[i-1]) / 2
			cost := splitCost(X, y, rows, feat, thr)
			if cost < best {
				best = cost
				feature = feat
				threshold = thr
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func splitCost(X []space.Point, y []float64, rows []int, feat int, thr float64) float64 {
	var lSum, rSum float64
	var lN, rN int
	for _, r := range rows {
		if X[r][feat] <= thr {
			lSum += y[r]
			lN++
		} else {
			rSum += y[r]
			rN++
		}
	}
	if lN == 0 || rN == 0 {
		return math.Inf(1)
	}

	lMean, rMean := lSum/float64(lN), rSum/float64(rN)
	var cost float64
	for _, r := range rows {
		if X[r][feat] <= thr {
			d := y[r] - lMean
			cost += d * d
		} else {
			d := y[r] - rMean
			cost += d * d
		}
	}
	return cost
}

func meanOf(y []float64, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += y[r]
	}
	return sum / float64(len(rows))
}

func sse(y []float64, rows []int, mean float64) float64 {
	var total float64
	for _, r := range rows {
		d := y[r] - mean
		total += d * d
	}
	return total
}
