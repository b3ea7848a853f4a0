package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/session"
)

type joinRequest struct {
	InterviewID string `json:"interview_id" validate:"required,max=100"`
	Name        string `json:"userName" validate:"required,max=200"`
	Email       string `json:"userEmail" validate:"required,email"`
}

// JoinSessionHandler opens an idle session for a candidate. An existing live
// session of the same candidate for the same interview is released first.
func (s *Server) JoinSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, r, fmt.Errorf("%w: candidate name is required", domain.ErrInvalidArgument), map[string]string{"userName": "required"})
			return
		}
		spec, err := s.Interviews.Get(r.Context(), req.InterviewID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		ctrl, err := s.Sessions.Open(spec, domain.Candidate{Name: strings.TrimSpace(req.Name), Email: req.Email})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("session opened", "session_id", ctrl.ID(), "interview_id", spec.ID)
		writeJSON(w, http.StatusCreated, ctrl.Snapshot())
	}
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id, ok := pathID(w, r, "sid")
	if !ok {
		return nil, false
	}
	ctrl, found := s.Sessions.Get(id)
	if !found {
		writeError(w, r, fmt.Errorf("%w: session %s", domain.ErrNotFound, id), nil)
		return nil, false
	}
	return ctrl, true
}

// StartSessionHandler connects the session to the voice agent.
func (s *Server) StartSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.controller(w, r)
		if !ok {
			return
		}
		if err := ctrl.Start(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// StopSessionHandler ends the session on the candidate's behalf.
func (s *Server) StopSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.controller(w, r)
		if !ok {
			return
		}
		if err := ctrl.Stop(r.Context()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
	}
}

type muteRequest struct {
	Muted *bool `json:"muted" validate:"required"`
}

// MuteSessionHandler records the candidate's microphone state.
func (s *Server) MuteSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.controller(w, r)
		if !ok {
			return
		}
		var req muteRequest
		if details, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if err := ctrl.SetMuted(r.Context(), *req.Muted); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// SessionHandler returns the current session snapshot.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.controller(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// NotificationsHandler drains pending non-fatal notices without blocking.
func (s *Server) NotificationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := s.controller(w, r)
		if !ok {
			return
		}
		out := []session.Notification{}
	drain:
		for {
			select {
			case n := <-ctrl.Notifications():
				out = append(out, n)
			default:
				break drain
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
	}
}
