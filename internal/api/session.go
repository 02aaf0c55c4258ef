package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// LoginRequest is the body of POST /session/login.
type LoginRequest struct {
	Name string `json:"name"`
}

// PrivateRequest is the body of POST /messages/private.
type PrivateRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// TopicRequest is the body of POST /messages/topic.
type TopicRequest struct {
	Topic string `json:"topic"`
	Text  string `json:"text"`
}

// =============================================================================
// Reads
// =============================================================================

// handleState returns the full session snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListUsers returns every known user with presence and pending count.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.session.Users(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.session.User(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.session.Topics(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": topics,
		"count":  len(topics),
	})
}

// =============================================================================
// Manager actions
// =============================================================================

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	s.entityAction(w, r, s.session.AddUser, http.StatusCreated)
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	s.entityAction(w, r, s.session.RemoveUser, http.StatusOK)
}

func (s *Server) handleAddTopic(w http.ResponseWriter, r *http.Request) {
	s.entityAction(w, r, s.session.AddTopic, http.StatusCreated)
}

func (s *Server) handleRemoveTopic(w http.ResponseWriter, r *http.Request) {
	s.entityAction(w, r, s.session.RemoveTopic, http.StatusOK)
}

// handlePoll starts a presence poll.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if err := s.session.PollPresence(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "polling"})
}

// =============================================================================
// User actions
// =============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.session.Login(r.Context(), req.Name); err != nil {
		s.logger.Info("login failed", "name", req.Name, "error", err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_in", "name": req.Name})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSendPrivate(w http.ResponseWriter, r *http.Request) {
	var req PrivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.session.SendPrivate(r.Context(), req.To, req.Text); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "to": req.To})
}

func (s *Server) handleSendTopic(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.session.SendTopic(r.Context(), req.Topic, req.Text); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "topic": req.Topic})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.session.SubscribeTopic(r.Context(), name); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": name, "subscribed": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.session.UnsubscribeTopic(r.Context(), name); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": name, "subscribed": false})
}

// entityAction runs a directory change named by the {name} URL parameter.
func (s *Server) entityAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, name string) error, status int) {
	name := chi.URLParam(r, "name")
	if err := action(r.Context(), name); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, status, map[string]string{"name": name})
}
