package optimizer

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/fault"
	"github.com/boifi/recommender/internal/space"
)

// Options configures a Proposer.
type Options struct {
	// Seed drives every random draw the proposer makes. Derive it from the
	// session ID with SeedFor for reproducible sessions.
	Seed uint64
	// ColdStartN is how many recorded results must exist before the
	// surrogate takes over from uniform sampling. Default 5.
	ColdStartN int
	// Candidates is the number of random points scored per selection.
	// Default 1000.
	Candidates int
	// NumTrees is the surrogate ensemble size. Default 100.
	NumTrees int
	// Service fills in the plan's target when the space has no service
	// dimension.
	Service string
}

// Proposer combines cold-start sampling and surrogate-guided selection behind
// a single Propose call. It owns the session's RNG and the full (point, score)
// history; it is not safe for concurrent use and is never shared between
// sessions.
type Proposer struct {
	space  *space.Space
	opts   Options
	rng    *rand.Rand
	forest *Forest
	logger *zap.Logger

	historyX  []space.Point
	historyY  []float64
	bestScore float64
	bestPoint space.Point
	dirty     bool
}

// SeedFor derives a stable RNG seed from a session identifier.
func SeedFor(sessionID string) uint64 {
	h := blake3.New()
	_, _ = h.Write([]byte(sessionID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// NewProposer builds a proposer over a validated space.
func NewProposer(sp *space.Space, opts Options, logger *zap.Logger) *Proposer {
	if opts.ColdStartN <= 0 {
		opts.ColdStartN = 5
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 1000
	}
	if opts.NumTrees <= 0 {
		opts.NumTrees = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proposer{
		space:  sp,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(opts.Seed, 0)),
		forest: NewForest(opts.NumTrees, opts.Seed),
		logger: logger,
	}
}

// Propose returns the next plan to evaluate: a uniform sample during cold
// start, the Expected Improvement argmax afterwards.
func (p *Proposer) Propose() (fault.Plan, error) {
	var pt space.Point
	if len(p.historyY) < p.opts.ColdStartN {
		pt = p.space.Sample(p.rng)
	} else {
		if p.dirty {
			p.forest.Fit(p.historyX, p.historyY)
			p.dirty = false
		}
		pt = SelectNext(p.space, p.forest, p.bestScore, p.opts.Candidates, p.rng)
	}

	assign, err := p.space.Decode(pt)
	if err != nil {
		return fault.Plan{}, err
	}
	plan, err := fault.FromAssignment(assign, p.opts.Service)
	if err != nil {
		return fault.Plan{}, err
	}
	p.logger.Debug("proposed plan",
		zap.String("fault_type", string(plan.Kind)),
		zap.Int("history", len(p.historyY)))
	return plan, nil
}

// Record absorbs one scored trial into the history and marks the surrogate
// for lazy refit.
func (p *Proposer) Record(plan fault.Plan, score float64) error {
	pt, err := p.space.Encode(plan.Assignment())
	if err != nil {
		return err
	}
	p.historyX = append(p.historyX, pt)
	p.historyY = append(p.historyY, score)
	if score > p.bestScore || p.bestPoint == nil {
		p.bestScore = score
		p.bestPoint = pt
	}
	p.dirty = true
	return nil
}

// History returns the number of recorded results.
func (p *Proposer) History() int { return len(p.historyY) }

// Best returns the highest recorded score, or 0 when nothing is recorded.
func (p *Proposer) Best() float64 { return p.bestScore }
