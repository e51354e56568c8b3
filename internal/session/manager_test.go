package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boifi/recommender/internal/analyzer"
	"github.com/boifi/recommender/internal/fault"
	"github.com/boifi/recommender/internal/store"
)

type fakeExecutor struct {
	apply   func(plan fault.Plan) (*fault.Observation, error)
	healthy bool
}

func (f *fakeExecutor) Apply(_ context.Context, plan fault.Plan) (*fault.Observation, error) {
	return f.apply(plan)
}

func (f *fakeExecutor) Health(context.Context) bool { return f.healthy }

func serverError(fault.Plan) (*fault.Observation, error) {
	code := 503
	return &fault.Observation{StatusCode: &code}, nil
}

func testManager(t *testing.T, apply func(fault.Plan) (*fault.Observation, error)) *Manager {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	mgr, err := NewManager(Config{
		DefaultMaxTrials: 10,
		ColdStartN:       2,
		Analyzer: analyzer.Config{
			BaselineMS: 100, ThresholdMS: 500,
			BugWeight: 1, PerfWeight: 1, StructWeight: 1,
		},
	}, st, func() ExecutorClient { return &fakeExecutor{apply: apply, healthy: true} }, nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func waitTerminal(t *testing.T, mgr *Manager, id string) *Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := mgr.Get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if s.Status.Terminal() {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not reach a terminal state")
	return nil
}

func TestManager_RunsSessionToCompletion(t *testing.T) {
	mgr := testManager(t, serverError)

	s, err := mgr.Create("checkout", testSpace(), 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	final := waitTerminal(t, mgr, s.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status %s (%s)", final.Status, final.FailureReason)
	}
	if len(final.Trials) != 5 {
		t.Fatalf("expected 5 trials, got %d", len(final.Trials))
	}
	for i, tr := range final.Trials {
		if tr.ID != i {
			t.Fatalf("trial ids not contiguous: %d at index %d", tr.ID, i)
		}
		if tr.Score == nil {
			t.Fatalf("trial %d unscored", i)
		}
	}
	// 503 scores bug=10 with equal weights and no latency/trace signal.
	if got := final.BestScore(); got < 3.3 || got > 3.4 {
		t.Fatalf("best score %v, want ~10/3", got)
	}
	if final.Best == nil || final.Best.Plan.Service != "checkout" {
		t.Fatalf("best plan missing service: %+v", final.Best)
	}
}

func TestManager_ExecutorFailuresConsumeBudgetWithoutTrials(t *testing.T) {
	mgr := testManager(t, func(fault.Plan) (*fault.Observation, error) {
		return nil, fmt.Errorf("connection refused")
	})

	s, _ := mgr.Create("checkout", testSpace(), 4)
	final := waitTerminal(t, mgr, s.ID)

	if final.Status != StatusCompleted {
		t.Fatalf("status %s", final.Status)
	}
	if len(final.Trials) != 0 {
		t.Fatalf("failed applies must not record trials, got %d", len(final.Trials))
	}
}

func TestManager_StopIsCooperativeAndIdempotent(t *testing.T) {
	mgr := testManager(t, func(p fault.Plan) (*fault.Observation, error) {
		time.Sleep(10 * time.Millisecond)
		return serverError(p)
	})

	s, _ := mgr.Create("checkout", testSpace(), 1000)

	if _, err := mgr.Stop(s.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	final := waitTerminal(t, mgr, s.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status %s", final.Status)
	}
	if len(final.Trials) >= 1000 {
		t.Fatal("stop did not interrupt the loop")
	}

	// Stopping a finished session is a no-op.
	again, err := mgr.Stop(s.ID)
	if err != nil {
		t.Fatalf("repeat stop: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Fatalf("repeat stop changed status to %s", again.Status)
	}
}

func TestManager_GetUnknownSession(t *testing.T) {
	mgr := testManager(t, serverError)
	if _, err := mgr.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := mgr.Stop("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_DeleteRequiresTerminalState(t *testing.T) {
	mgr := testManager(t, func(p fault.Plan) (*fault.Observation, error) {
		time.Sleep(10 * time.Millisecond)
		return serverError(p)
	})

	s, _ := mgr.Create("checkout", testSpace(), 1000)
	if err := mgr.Delete(s.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}

	mgr.Stop(s.ID)
	waitTerminal(t, mgr, s.ID)

	if err := mgr.Delete(s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mgr.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted session still present: %v", err)
	}
	if err := mgr.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat delete, got %v", err)
	}
}

func TestManager_RestartMarksLiveSessionsFailed(t *testing.T) {
	dir := t.TempDir()
	st, _ := store.Open(dir, nil)

	interrupted := New("01RESTART", "svc", testSpace(), 10)
	interrupted.ToRunning()
	if err := st.Save(interrupted.ID, interrupted); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	mgr, err := NewManager(Config{
		Analyzer: analyzer.Config{BaselineMS: 100, ThresholdMS: 500, BugWeight: 1},
	}, st, func() ExecutorClient { return &fakeExecutor{apply: serverError} }, nil, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	s, err := mgr.Get("01RESTART")
	if err != nil {
		t.Fatalf("get recovered session: %v", err)
	}
	if s.Status != StatusFailed {
		t.Fatalf("recovered status %s, want FAILED", s.Status)
	}
	if s.FailureReason != "interrupted by restart" {
		t.Fatalf("reason %q", s.FailureReason)
	}
}

func TestManager_ShutdownStopsWorkers(t *testing.T) {
	mgr := testManager(t, func(p fault.Plan) (*fault.Observation, error) {
		time.Sleep(5 * time.Millisecond)
		return serverError(p)
	})
	mgr.Create("checkout", testSpace(), 100000)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
