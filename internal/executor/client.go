// Package executor is the HTTP client for the remote fault-execution service.
// It wraps policy dispatch in retry-with-backoff and a circuit breaker so a
// flaky executor degrades a session instead of failing it.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/fault"
)

var (
	// ErrCircuitOpen is returned when the breaker rejects a call without a
	// network attempt.
	ErrCircuitOpen = errors.New("executor: circuit breaker open")
	// ErrRetriesExhausted is returned when every attempt failed transiently.
	ErrRetriesExhausted = errors.New("executor: retries exhausted")
	// ErrPathNotAllowed is returned when the plan targets an API path outside
	// the configured allowlist. It is a permanent failure.
	ErrPathNotAllowed = errors.New("executor: target path not allowed")
)

// Config holds transport and resilience settings for one client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterPct   float64

	FailureThreshold uint32
	RecoveryTimeout  time.Duration

	// AllowedPaths is a doublestar glob allowlist for plan API paths.
	// Empty means every path is allowed.
	AllowedPaths []string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
}

// Client talks to one executor. One client serves one session worker; the
// breaker state is internal and not shared.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	rng     *rand.Rand
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger

	// OnBreakerTrip, when set, is invoked every time the breaker opens.
	OnBreakerTrip func()
}

// New builds a client from config.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:  sleepCtx,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "executor",
		MaxRequests: 1,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			if to == gobreaker.StateOpen && c.OnBreakerTrip != nil {
				c.OnBreakerTrip()
			}
		},
	})
	return c
}

// policyRequest is the executor wire body for POST /v1/policies.
type policyRequest struct {
	Service          string   `json:"service"`
	FaultType        string   `json:"fault_type"`
	DurationMS       int      `json:"duration_ms,omitempty"`
	DelayMS          int      `json:"delay_ms,omitempty"`
	AbortProbability *float64 `json:"abort_probability,omitempty"`
	ErrorCode        *int     `json:"error_code,omitempty"`
}

func wireRequest(plan fault.Plan) policyRequest {
	req := policyRequest{
		Service:    plan.Service,
		FaultType:  string(plan.Kind),
		DurationMS: plan.DurationMS,
	}
	// Impact percentage rides the abort_probability field for every kind;
	// the wire format has no separate percentage.
	prob := float64(plan.Percentage) / 100
	req.AbortProbability = &prob

	switch plan.Kind {
	case fault.KindDelay:
		req.DelayMS = plan.DelayMS
	case fault.KindAbort:
		status := plan.AbortStatus
		req.ErrorCode = &status
	case fault.KindErrorInjection:
		req.ErrorCode = plan.ErrorCode
	}
	return req
}

// Apply sends the plan and returns the resulting observation. A nil
// observation with a non-nil error means the attempt budget was spent, the
// failure was permanent, or the circuit is open. One Apply counts as one
// breaker execution regardless of how many attempts it makes internally.
func (c *Client) Apply(ctx context.Context, plan fault.Plan) (*fault.Observation, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.applyOnce(ctx, plan)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return res.(*fault.Observation), nil
}

func (c *Client) applyOnce(ctx context.Context, plan fault.Plan) (*fault.Observation, error) {
	if err := c.checkPath(plan.API); err != nil {
		return nil, err
	}

	body, err := json.Marshal(wireRequest(plan))
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		obs, retryable, err := c.post(ctx, body)
		if err == nil {
			return obs, nil
		}
		if !retryable {
			return nil, err
		}
		c.logger.Warn("executor attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxAttempts),
			zap.Error(err))
	}
	return nil, ErrRetriesExhausted
}

func (c *Client) post(ctx context.Context, body []byte) (obs *fault.Observation, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/policies", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var o fault.Observation
		if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
			return nil, false, fmt.Errorf("executor: decode observation: %w", err)
		}
		if err := o.Validate(); err != nil {
			return nil, false, err
		}
		return &o, false, nil
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("executor: server error %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("executor: permanent failure %d", resp.StatusCode)
	}
}

// Health probes GET /v1/health through the breaker.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("executor: health returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err == nil
}

func (c *Client) checkPath(apiPath string) error {
	if apiPath == "" || len(c.cfg.AllowedPaths) == 0 {
		return nil
	}
	for _, pattern := range c.cfg.AllowedPaths {
		ok, err := doublestar.Match(pattern, apiPath)
		if err != nil {
			return fmt.Errorf("executor: bad allowlist pattern %q: %w", pattern, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrPathNotAllowed, apiPath)
}

// delay computes the backoff before retry i: capped exponential growth with
// symmetric jitter drawn uniformly from [d*(1-j), d*(1+j)].
func (c *Client) delay(i int) time.Duration {
	d := float64(c.cfg.BaseDelay) * float64(uint64(1)<<uint(i))
	if capped := float64(c.cfg.MaxDelay); d > capped {
		d = capped
	}
	j := c.cfg.JitterPct / 100
	if j > 0 {
		d *= 1 - j + c.rng.Float64()*2*j
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
