package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.S().Errorw("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.S().Errorw("failed to encode error response", "error", err)
	}
}

// decode reads a JSON body into dst and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// respondGameError maps engine errors onto HTTP statuses
func (s *Server) respondGameError(w http.ResponseWriter, err error, action string, fields ...interface{}) {
	switch {
	case errors.Is(err, engine.ErrProjectNotFound):
		respondError(w, http.StatusNotFound, "project_not_found", "project not found")
	case errors.Is(err, engine.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "user_not_found", "user not in directory")
	case errors.Is(err, engine.ErrNotParticipating):
		respondError(w, http.StatusNotFound, "not_participating", "user does not participate in project")
	case errors.Is(err, engine.ErrChallengeNotFound):
		respondError(w, http.StatusNotFound, "not_found", "challenge not found")
	case errors.Is(err, engine.ErrUnknownTeam):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, engine.ErrReasonRequired):
		respondError(w, http.StatusBadRequest, "validation_error", "reason is required")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "timeout", "timed out waiting for "+action)
	default:
		s.logger.Errorw("failed to "+action, append(fields, "error", err)...)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ready(r.Context()); err != nil {
			s.logger.Warnw("readiness check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Build handlers

func (s *Server) handleReportBuild(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	var req models.ReportBuildRequest
	if !s.decode(w, r, &req) {
		return
	}

	// a disconnecting client or the request timeout must not stop a run halfway
	// through its users
	summary, err := s.game.RunForBuild(context.WithoutCancel(r.Context()), req.ToBuild(project))
	if err != nil {
		s.respondGameError(w, err, "process build", "project", project, "build", req.Number)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	doc, err := s.stats.XML(r.Context(), project)
	if err != nil {
		s.respondGameError(w, err, "export statistics", "project", project)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		s.logger.Debugw("failed to write statistics", "project", project, "error", err)
	}
}
