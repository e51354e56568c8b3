package server

import (
	"encoding/json"
	"time"

	"github.com/boifi/recommender/internal/fault"
	"github.com/boifi/recommender/internal/session"
)

// CreateSessionRequest is the POST /v1/optimization/sessions request body.
type CreateSessionRequest struct {
	// ServiceName is the target service. Required.
	ServiceName string `json:"service_name"`

	// SearchSpaceConfig is the search-space document, validated against the
	// embedded schema before the session is created.
	SearchSpaceConfig json.RawMessage `json:"search_space_config"`

	// MaxTrials is optional; the configured default applies when omitted.
	MaxTrials int `json:"max_trials,omitempty"`
}

// SessionStatus is the external view of one session.
type SessionStatus struct {
	ID              string      `json:"id"`
	ServiceName     string      `json:"service_name"`
	Status          string      `json:"status"`
	TrialsCompleted int         `json:"trials_completed"`
	MaxTrials       int         `json:"max_trials"`
	ProgressPercent float64     `json:"progress_percent"`
	BestScore       float64     `json:"best_score"`
	BestFault       *fault.Plan `json:"best_fault,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func sessionStatus(s *session.Session) SessionStatus {
	st := SessionStatus{
		ID:              s.ID,
		ServiceName:     s.ServiceName,
		Status:          string(s.Status),
		TrialsCompleted: s.TrialsCompleted(),
		MaxTrials:       s.MaxTrials,
		ProgressPercent: s.Progress(),
		BestScore:       s.BestScore(),
		FailureReason:   s.FailureReason,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.Best != nil {
		plan := s.Best.Plan
		st.BestFault = &plan
	}
	return st
}

// StopSessionRequest is the POST /v1/optimization/sessions/{id}/stop body.
type StopSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StopSessionResponse acknowledges a stop request.
type StopSessionResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status            string         `json:"status"`
	Timestamp         time.Time      `json:"timestamp"`
	ExecutorAvailable bool           `json:"executor_available"`
	Details           map[string]any `json:"details"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
