// Package analyzer turns one observation into a severity score in [0,10],
// built from three axes: explicit failures, latency degradation, and trace
// structure changes against a baseline.
package analyzer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/fault"
)

// criticalKeywords are matched case-sensitively as substrings of log lines.
var criticalKeywords = []string{"ERROR", "FATAL", "CRITICAL", "PANIC", "EXCEPTION"}

// Config holds the per-session scoring parameters.
type Config struct {
	BaselineMS   float64
	ThresholdMS  float64
	BugWeight    float64
	PerfWeight   float64
	StructWeight float64

	// BaselineTrace is the reference for structural comparison. Without it
	// the structural axis always scores 0.
	BaselineTrace *fault.Trace
}

// Validate checks the scoring parameters. A zero weight sum is allowed and
// simply yields zero totals.
func (c Config) Validate() error {
	if c.BaselineMS <= 0 {
		return fmt.Errorf("analyzer: baseline latency must be positive, got %v", c.BaselineMS)
	}
	if c.ThresholdMS <= c.BaselineMS {
		return fmt.Errorf("analyzer: threshold latency %v must exceed baseline %v", c.ThresholdMS, c.BaselineMS)
	}
	if c.BugWeight < 0 || c.PerfWeight < 0 || c.StructWeight < 0 {
		return fmt.Errorf("analyzer: weights must not be negative")
	}
	return nil
}

// Breakdown carries the per-axis scores behind one total.
type Breakdown struct {
	Bug     float64            `json:"bug_score"`
	Perf    float64            `json:"perf_score"`
	Struct  float64            `json:"struct_score"`
	Total   float64            `json:"total_score"`
	Weights map[string]float64 `json:"weights"`
}

// Analyzer scores observations. It is stateless apart from its config and is
// safe to share across goroutines.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an analyzer.
func New(cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Score produces the severity total and its breakdown for one observation.
// A panic inside any sub-scorer is logged and contributes 0; the aggregation
// always proceeds.
func (a *Analyzer) Score(obs *fault.Observation) (float64, Breakdown) {
	bug := a.safely("bug", func() float64 { return a.scoreBug(obs) })
	perf := a.safely("perf", func() float64 { return a.scorePerf(obs) })
	structural := a.safely("struct", func() float64 { return a.scoreStruct(obs) })

	weights := map[string]float64{
		"bug":    a.cfg.BugWeight,
		"perf":   a.cfg.PerfWeight,
		"struct": a.cfg.StructWeight,
	}
	bd := Breakdown{Bug: bug, Perf: perf, Struct: structural, Weights: weights}

	sum := a.cfg.BugWeight + a.cfg.PerfWeight + a.cfg.StructWeight
	if sum <= 0 {
		return 0, bd
	}
	total := (a.cfg.BugWeight*bug + a.cfg.PerfWeight*perf + a.cfg.StructWeight*structural) / sum
	bd.Total = clamp(total, 0, 10)
	return bd.Total, bd
}

func (a *Analyzer) safely(name string, score func() float64) (result float64) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("sub-scorer failed, contributing 0",
				zap.String("scorer", name), zap.Any("panic", r))
			result = 0
		}
	}()
	return score()
}

// scoreBug is a discrete ladder; the highest matching rule wins.
func (a *Analyzer) scoreBug(obs *fault.Observation) float64 {
	if obs.StatusCode != nil {
		if *obs.StatusCode >= 500 && *obs.StatusCode <= 599 {
			return 10
		}
		if *obs.StatusCode >= 400 && *obs.StatusCode <= 499 {
			return 8
		}
	}
	for _, line := range obs.Logs {
		for _, kw := range criticalKeywords {
			if strings.Contains(line, kw) {
				return 6
			}
		}
	}
	if obs.ErrorRate != nil && *obs.ErrorRate > 0 {
		return 3
	}
	return 0
}

// scorePerf interpolates between the baseline (0) and the threshold (9), with
// anything at or past the threshold scoring 10.
func (a *Analyzer) scorePerf(obs *fault.Observation) float64 {
	b, t := a.cfg.BaselineMS, a.cfg.ThresholdMS
	if b <= 0 || obs.LatencyMS == nil {
		return 0
	}
	actual := *obs.LatencyMS
	if actual >= t {
		return 10
	}
	return clamp((actual-b)/(t-b)*9, 0, 10)
}

// scoreStruct takes the maximum of the sub-signals that fire, capped at 10.
func (a *Analyzer) scoreStruct(obs *fault.Observation) float64 {
	base := a.cfg.BaselineTrace
	if base == nil || obs.Trace == nil {
		return 0
	}
	cur := obs.Trace

	score := 0.0

	// Span-count growth suggests retries.
	if len(base.Spans) >= 1 && float64(len(cur.Spans)) > 1.5*float64(len(base.Spans)) {
		score = max(score, 3)
	}

	// Operation-sequence drift suggests a control-flow change.
	if levenshtein(base.Operations(), cur.Operations()) > 2 {
		score = max(score, 5)
	}

	for _, s := range cur.Spans {
		if s.Failed() {
			score = max(score, 2)
			break
		}
	}

	// Per-operation latency spike against the baseline.
	baseDur := make(map[string]int64, len(base.Spans))
	for _, s := range base.Spans {
		if _, seen := baseDur[s.Operation]; !seen {
			baseDur[s.Operation] = s.Duration
		}
	}
	for _, s := range cur.Spans {
		if bd, ok := baseDur[s.Operation]; ok && bd > 0 {
			if float64(s.Duration)/float64(bd) > 5 {
				score = max(score, 2)
				break
			}
		}
	}

	return clamp(score, 0, 10)
}

// levenshtein is the edit distance between two operation-name sequences.
func levenshtein(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = 1 + min(prev[j-1], min(prev[j], curr[j-1]))
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
