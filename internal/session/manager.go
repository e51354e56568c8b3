package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/analyzer"
	"github.com/boifi/recommender/internal/fault"
	"github.com/boifi/recommender/internal/metrics"
	"github.com/boifi/recommender/internal/optimizer"
	"github.com/boifi/recommender/internal/space"
	"github.com/boifi/recommender/internal/store"
)

// ExecutorClient is what a worker needs from the executor transport. One
// client instance serves exactly one session worker.
type ExecutorClient interface {
	Apply(ctx context.Context, plan fault.Plan) (*fault.Observation, error)
	Health(ctx context.Context) bool
}

// Config carries the per-session defaults the manager hands to every worker.
type Config struct {
	// DefaultMaxTrials is the budget used when a create request omits one.
	DefaultMaxTrials int
	// ColdStartN is the number of uniform samples before the surrogate
	// takes over.
	ColdStartN int
	// IterationTimeout bounds each executor call. Zero means no deadline.
	IterationTimeout time.Duration
	// Analyzer holds the scoring parameters shared by all sessions.
	Analyzer analyzer.Config
}

// Manager owns the session map and one worker goroutine per live session.
// All session mutation happens under its lock, and every externally visible
// mutation is persisted before the mutating call returns.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg       Config
	store     *store.Store
	newClient func() ExecutorClient
	metrics   *metrics.Metrics
	logger    *zap.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewManager loads persisted sessions and returns a ready manager. Sessions
// found in a non-terminal state were interrupted by a restart; they are marked
// FAILED because their proposer history cannot be resumed faithfully.
func NewManager(cfg Config, st *store.Store, newClient func() ExecutorClient, m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {
	if cfg.DefaultMaxTrials <= 0 {
		cfg.DefaultMaxTrials = 100
	}
	if cfg.ColdStartN <= 0 {
		cfg.ColdStartN = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mgr := &Manager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		store:     st,
		newClient: newClient,
		metrics:   m,
		logger:    logger,
		shutdown:  make(chan struct{}),
	}

	snapshots, err := st.LoadAll()
	if err != nil {
		return nil, err
	}
	for id, raw := range snapshots {
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			logger.Warn("skipping unparseable session snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		if !s.Status.Terminal() {
			if err := s.ToFailed("interrupted by restart"); err != nil {
				logger.Warn("could not fail recovered session", zap.String("id", id), zap.Error(err))
				continue
			}
			mgr.persist(&s)
		}
		mgr.sessions[s.ID] = &s
	}
	if len(mgr.sessions) > 0 {
		logger.Info("recovered sessions from store", zap.Int("count", len(mgr.sessions)))
	}
	return mgr, nil
}

// Create registers a new session over a validated space and launches its
// worker. The returned snapshot is a deep copy.
func (m *Manager) Create(serviceName string, sp *space.Space, maxTrials int) (*Session, error) {
	if maxTrials <= 0 {
		maxTrials = m.cfg.DefaultMaxTrials
	}

	id := ulid.Make().String()
	s := New(id, serviceName, sp, maxTrials)

	m.mu.Lock()
	m.sessions[id] = s
	m.persist(s)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
		m.metrics.RunningSessions.Inc()
	}

	m.wg.Add(1)
	go m.runWorker(s)

	m.logger.Info("session created",
		zap.String("id", id),
		zap.String("service", serviceName),
		zap.Int("max_trials", maxTrials))
	return s.Clone(), nil
}

// Get returns a deep copy of the session, or ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Count returns the number of known sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop requests a cooperative stop. Stopping a session that is not RUNNING is
// a no-op; the current snapshot is returned either way.
func (m *Manager) Stop(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusRunning {
		if err := s.ToStopping(); err != nil {
			return nil, err
		}
		m.persist(s)
		m.logger.Info("session stop requested", zap.String("id", id))
	}
	return s.Clone(), nil
}

// Delete removes a terminal session and its snapshot.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !s.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, s.Status)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}
	delete(m.sessions, id)
	m.logger.Info("session deleted", zap.String("id", id))
	return nil
}

// Shutdown asks every worker to stop at its next iteration boundary and waits
// for them, bounded by ctx. Sessions still running are left RUNNING on disk
// and will be failed on the next startup.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.shutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist saves a snapshot under the manager lock. Save errors are logged and
// do not propagate; the in-memory state stays authoritative.
func (m *Manager) persist(s *Session) {
	if err := m.store.Save(s.ID, s); err != nil {
		m.logger.Error("session save failed", zap.String("id", s.ID), zap.Error(err))
	}
}

// runWorker drives one session from PENDING to a terminal state.
func (m *Manager) runWorker(s *Session) {
	defer m.wg.Done()
	defer func() {
		if m.metrics != nil {
			m.metrics.RunningSessions.Dec()
		}
	}()

	log := m.logger.With(zap.String("session", s.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked", zap.Any("panic", r))
			m.fail(s, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	m.mu.Lock()
	if err := s.ToRunning(); err != nil {
		m.mu.Unlock()
		log.Error("could not start session", zap.Error(err))
		return
	}
	m.persist(s)
	m.mu.Unlock()

	proposer := optimizer.NewProposer(s.Space, optimizer.Options{
		Seed:       optimizer.SeedFor(s.ID),
		ColdStartN: m.cfg.ColdStartN,
		Service:    s.ServiceName,
	}, log)
	scorer := analyzer.New(m.cfg.Analyzer, log)
	client := m.newClient()

	for i := 0; i < s.MaxTrials; i++ {
		select {
		case <-m.shutdown:
			log.Info("worker interrupted by shutdown", zap.Int("iteration", i))
			return
		default:
		}
		if m.stopRequested(s) {
			break
		}

		plan, err := proposer.Propose()
		if err != nil {
			m.fail(s, fmt.Sprintf("propose: %v", err))
			return
		}

		obs, err := m.apply(client, plan)
		if err != nil {
			// Transport failure: the iteration counter is consumed but no
			// trial is recorded.
			log.Warn("executor call failed, skipping iteration",
				zap.Int("iteration", i), zap.Error(err))
			continue
		}

		score, breakdown := scorer.Score(obs)
		if err := proposer.Record(plan, score); err != nil {
			m.fail(s, fmt.Sprintf("record trial: %v", err))
			return
		}

		m.mu.Lock()
		s.AddTrial(Trial{
			Plan:        plan,
			Observation: obs,
			Score:       &score,
			Breakdown:   &breakdown,
			Timestamp:   time.Now().UTC(),
			Status:      TrialCompleted,
		})
		m.persist(s)
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.TrialsTotal.WithLabelValues(string(TrialCompleted)).Inc()
		}
		log.Debug("trial recorded",
			zap.Int("trial_id", len(s.Trials)-1),
			zap.Float64("score", score))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.ToCompleted(); err != nil {
		log.Error("could not complete session", zap.Error(err))
		return
	}
	m.persist(s)
	log.Info("session completed",
		zap.Int("trials", len(s.Trials)),
		zap.Float64("best_score", s.BestScore()))
}

func (m *Manager) apply(client ExecutorClient, plan fault.Plan) (*fault.Observation, error) {
	ctx := context.Background()
	if m.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.IterationTimeout)
		defer cancel()
	}

	obs, err := client.Apply(ctx, plan)
	if m.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.metrics.ExecutorRequests.WithLabelValues(result).Inc()
	}
	return obs, err
}

func (m *Manager) stopRequested(s *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.Status == StatusStopping
}

func (m *Manager) fail(s *Session, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := s.ToFailed(reason); err != nil {
		m.logger.Error("could not fail session", zap.String("id", s.ID), zap.Error(err))
		return
	}
	m.persist(s)
}
