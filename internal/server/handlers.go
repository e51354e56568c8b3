package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/boifi/recommender/internal/session"
	"github.com/boifi/recommender/internal/space"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.ServiceName == "" {
		writeError(w, http.StatusBadRequest, "service_name is required")
		return
	}
	if len(req.SearchSpaceConfig) == 0 {
		writeError(w, http.StatusBadRequest, "search_space_config is required")
		return
	}
	if req.MaxTrials < 0 {
		writeError(w, http.StatusBadRequest, "max_trials must not be negative")
		return
	}

	sp, err := space.ParseJSON(req.SearchSpaceConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid search space: %v", err))
		return
	}

	sess, err := s.manager.Create(req.ServiceName, sp, req.MaxTrials)
	if err != nil {
		s.logger.Error("session create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, sessionStatus(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus(sess))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req StopSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	id := r.PathValue("id")
	sess, err := s.manager.Stop(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("stop session: %v", err))
		return
	}

	msg := "stop requested"
	if sess.Status.Terminal() {
		msg = "session already finished"
	}
	if req.Reason != "" {
		s.logger.Info("stop reason", zap.String("session", id), zap.String("reason", req.Reason))
	}
	writeJSON(w, http.StatusAccepted, StopSessionResponse{
		ID:      sess.ID,
		Status:  string(sess.Status),
		Message: msg,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Delete(r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrNotTerminal):
		writeError(w, http.StatusConflict, "session is still active")
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("delete session: %v", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	available := s.probe.Health(ctx)
	status := "ok"
	if !available {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            status,
		Timestamp:         time.Now().UTC(),
		ExecutorAvailable: available,
		Details: map[string]any{
			"sessions": s.manager.Count(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
