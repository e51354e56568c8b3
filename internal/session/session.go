// Package session holds the optimization session model and the manager that
// drives each session's worker loop from creation to a terminal state.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/boifi/recommender/internal/analyzer"
	"github.com/boifi/recommender/internal/fault"
	"github.com/boifi/recommender/internal/space"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusStopping  Status = "STOPPING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session: not found")
	// ErrIllegalTransition is returned when a status change leaves the
	// lifecycle graph.
	ErrIllegalTransition = errors.New("session: illegal status transition")
	// ErrNotTerminal is returned when deleting a session that is still live.
	ErrNotTerminal = errors.New("session: not in a terminal state")
)

// TrialStatus tags one trial record. A failed executor call records no trial
// at all, so every recorded trial is completed; skipped iterations surface in
// the executor request metrics instead.
type TrialStatus string

const (
	TrialCompleted TrialStatus = "completed"
)

// Trial is one immutable iteration record.
type Trial struct {
	ID          int                 `json:"trial_id"`
	Plan        fault.Plan          `json:"fault_plan"`
	Observation *fault.Observation  `json:"observation,omitempty"`
	Score       *float64            `json:"score,omitempty"`
	Breakdown   *analyzer.Breakdown `json:"breakdown,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
	Status      TrialStatus         `json:"status"`
}

// BestResult is a value copy of the best trial seen so far, never a reference
// into the trial sequence.
type BestResult struct {
	TrialID int        `json:"trial_id"`
	Plan    fault.Plan `json:"fault_plan"`
	Score   float64    `json:"score"`
}

// Session is the top-level optimization unit. All mutation goes through the
// Manager, which holds the lock; Session methods assume exclusive access.
type Session struct {
	ID          string       `json:"id"`
	ServiceName string       `json:"service_name"`
	Space       *space.Space `json:"search_space"`
	MaxTrials   int          `json:"max_trials"`

	Trials []Trial     `json:"trials"`
	Best   *BestResult `json:"best_result,omitempty"`

	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New builds a PENDING session.
func New(id, serviceName string, sp *space.Space, maxTrials int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		ServiceName: serviceName,
		Space:       sp,
		MaxTrials:   maxTrials,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Session) transition(to Status) error {
	allowed := map[Status][]Status{
		StatusPending:  {StatusRunning, StatusFailed},
		StatusRunning:  {StatusStopping, StatusCompleted, StatusFailed},
		StatusStopping: {StatusCompleted, StatusFailed},
	}
	for _, next := range allowed[s.Status] {
		if next == to {
			s.Status = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, to)
}

// ToRunning starts the session.
func (s *Session) ToRunning() error {
	if err := s.transition(StatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.StartedAt = &now
	return nil
}

// ToStopping requests a cooperative stop.
func (s *Session) ToStopping() error { return s.transition(StatusStopping) }

// ToCompleted finishes the session.
func (s *Session) ToCompleted() error {
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
	return nil
}

// ToFailed marks the session failed with a reason. Failing is legal from any
// non-terminal state.
func (s *Session) ToFailed(reason string) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Status, StatusFailed)
	}
	s.Status = StatusFailed
	s.FailureReason = reason
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.CompletedAt = &now
	return nil
}

// AddTrial appends the next trial and keeps best in sync. The trial's ID is
// assigned here so IDs stay contiguous even when failed executor calls skip
// recording.
func (s *Session) AddTrial(t Trial) {
	t.ID = len(s.Trials)
	s.Trials = append(s.Trials, t)
	s.UpdatedAt = time.Now().UTC()

	if t.Score == nil {
		return
	}
	if s.Best == nil || *t.Score > s.Best.Score {
		s.Best = &BestResult{TrialID: t.ID, Plan: t.Plan, Score: *t.Score}
	}
}

// TrialsCompleted counts recorded trials.
func (s *Session) TrialsCompleted() int { return len(s.Trials) }

// BestScore returns the best recorded score, zero when nothing is scored.
func (s *Session) BestScore() float64 {
	if s.Best == nil {
		return 0
	}
	return s.Best.Score
}

// Progress is the fraction of the trial budget consumed, in percent.
func (s *Session) Progress() float64 {
	if s.MaxTrials <= 0 {
		return 0
	}
	p := float64(len(s.Trials)) / float64(s.MaxTrials) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Clone deep-copies the session so callers can marshal it without holding the
// manager lock.
func (s *Session) Clone() *Session {
	c := *s
	c.Trials = make([]Trial, len(s.Trials))
	copy(c.Trials, s.Trials)
	if s.Best != nil {
		b := *s.Best
		c.Best = &b
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
