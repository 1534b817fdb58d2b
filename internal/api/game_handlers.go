package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
)

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")

	board, err := s.game.Leaderboard(r.Context(), project)
	if err != nil {
		s.respondGameError(w, err, "build leaderboard", "project", project)
		return
	}

	respondJSON(w, http.StatusOK, board)
}

func (s *Server) handleChallenges(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	user := chi.URLParam(r, "user")

	view, err := s.game.Challenges(r.Context(), project, user)
	if err != nil {
		s.respondGameError(w, err, "load challenges", "project", project, "user", user)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	user := chi.URLParam(r, "user")

	var req models.JoinRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.game.Join(r.Context(), project, user, req.Team)
	if err != nil {
		s.respondGameError(w, err, "join project", "project", project, "user", user)
		return
	}

	respondJSON(w, http.StatusOK, engine.View(p))
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	user := chi.URLParam(r, "user")

	if err := s.game.Leave(r.Context(), project, user); err != nil {
		s.respondGameError(w, err, "leave project", "project", project, "user", user)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "participation removed",
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	user := chi.URLParam(r, "user")
	id := chi.URLParam(r, "id")

	var req models.RejectRequest
	if !s.decode(w, r, &req) {
		return
	}

	c, err := s.game.RejectChallenge(r.Context(), project, user, id, req.Reason)
	if err != nil {
		s.respondGameError(w, err, "reject challenge", "project", project, "user", user, "challenge", id)
		return
	}

	respondJSON(w, http.StatusOK, engine.ViewChallenge(c, req.Reason))
}
