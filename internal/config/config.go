// Package config loads the service settings from environment variables.
// Every knob has a default; Load never reads files itself (.env loading is
// the CLI's job).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the full process configuration, read once at startup and
// treated as immutable afterwards.
type Settings struct {
	ServerHost string
	ServerPort int

	ExecutorHost         string
	ExecutorPort         int
	ExecutorTimeout      time.Duration
	ExecutorAllowedPaths []string

	MaxTrials        int
	InitialPoints    int
	IterationTimeout time.Duration

	BaselineMS   float64
	ThresholdMS  float64
	BugWeight    float64
	PerfWeight   float64
	StructWeight float64

	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryJitterPct   float64

	BreakerFailureThreshold uint32
	BreakerRecoveryTimeout  time.Duration

	StoragePath string
	LogLevel    string
	LogFormat   string
}

// Load reads the environment and validates the result.
func Load() (*Settings, error) {
	s := &Settings{
		ServerHost:           envString("SERVER_HOST", "0.0.0.0"),
		ExecutorHost:         envString("EXECUTOR_HOST", "localhost"),
		ExecutorAllowedPaths: envList("EXECUTOR_ALLOWED_PATHS"),
		StoragePath:          envString("SESSION_STORAGE_PATH", ".sessions"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		LogFormat:            envString("LOG_FORMAT", "json"),
	}

	var err error
	if s.ServerPort, err = envInt("SERVER_PORT", 8000); err != nil {
		return nil, err
	}
	if s.ExecutorPort, err = envInt("EXECUTOR_PORT", 8001); err != nil {
		return nil, err
	}
	if s.ExecutorTimeout, err = envSeconds("EXECUTOR_TIMEOUT_SECONDS", 30); err != nil {
		return nil, err
	}
	if s.MaxTrials, err = envInt("OPTIMIZER_MAX_TRIALS", 100); err != nil {
		return nil, err
	}
	if s.InitialPoints, err = envInt("OPTIMIZER_INITIAL_POINTS", 5); err != nil {
		return nil, err
	}
	if s.IterationTimeout, err = envSeconds("OPTIMIZER_TIMEOUT_SECONDS", 600); err != nil {
		return nil, err
	}
	if s.BaselineMS, err = envFloat("ANALYZER_BASELINE_MS", 100); err != nil {
		return nil, err
	}
	if s.ThresholdMS, err = envFloat("ANALYZER_THRESHOLD_MS", 500); err != nil {
		return nil, err
	}
	if s.BugWeight, err = envFloat("ANALYZER_BUG_WEIGHT", 1); err != nil {
		return nil, err
	}
	if s.PerfWeight, err = envFloat("ANALYZER_PERF_WEIGHT", 1); err != nil {
		return nil, err
	}
	if s.StructWeight, err = envFloat("ANALYZER_STRUCT_WEIGHT", 1); err != nil {
		return nil, err
	}
	if s.RetryBaseDelay, err = envSeconds("RETRY_BASE_DELAY_SECONDS", 0.5); err != nil {
		return nil, err
	}
	if s.RetryMaxDelay, err = envSeconds("RETRY_MAX_DELAY_SECONDS", 8); err != nil {
		return nil, err
	}
	if s.RetryMaxAttempts, err = envInt("RETRY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if s.RetryJitterPct, err = envFloat("RETRY_JITTER_PERCENT", 10); err != nil {
		return nil, err
	}
	threshold, err := envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}
	s.BreakerFailureThreshold = uint32(threshold)
	if s.BreakerRecoveryTimeout, err = envSeconds("CIRCUIT_BREAKER_RECOVERY_TIMEOUT_SECONDS", 60); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return fmt.Errorf("config: SERVER_PORT %d out of range", s.ServerPort)
	}
	if s.ExecutorPort <= 0 || s.ExecutorPort > 65535 {
		return fmt.Errorf("config: EXECUTOR_PORT %d out of range", s.ExecutorPort)
	}
	if s.MaxTrials <= 0 {
		return fmt.Errorf("config: OPTIMIZER_MAX_TRIALS must be positive")
	}
	if s.InitialPoints <= 0 || s.InitialPoints > s.MaxTrials {
		return fmt.Errorf("config: OPTIMIZER_INITIAL_POINTS must be in [1,%d]", s.MaxTrials)
	}
	if s.BaselineMS <= 0 {
		return fmt.Errorf("config: ANALYZER_BASELINE_MS must be positive")
	}
	if s.ThresholdMS <= s.BaselineMS {
		return fmt.Errorf("config: ANALYZER_THRESHOLD_MS must exceed ANALYZER_BASELINE_MS")
	}
	if s.BugWeight < 0 || s.PerfWeight < 0 || s.StructWeight < 0 {
		return fmt.Errorf("config: analyzer weights must not be negative")
	}
	if s.RetryMaxAttempts <= 0 {
		return fmt.Errorf("config: RETRY_MAX_ATTEMPTS must be positive")
	}
	if s.RetryJitterPct < 0 || s.RetryJitterPct > 100 {
		return fmt.Errorf("config: RETRY_JITTER_PERCENT must be in [0,100]")
	}
	if s.StoragePath == "" {
		return fmt.Errorf("config: SESSION_STORAGE_PATH must not be empty")
	}
	return nil
}

// ServerAddr is the host:port the API binds to.
func (s *Settings) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.ServerHost, s.ServerPort)
}

// ExecutorBaseURL is the executor endpoint root.
func (s *Settings) ExecutorBaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.ExecutorHost, s.ExecutorPort)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envSeconds(key string, fallback float64) (time.Duration, error) {
	f, err := envFloat(key, fallback)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return time.Duration(f * float64(time.Second)), nil
}
