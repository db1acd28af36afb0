package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aide-chat/aide/internal/conversation"
	"github.com/aide-chat/aide/pkg/models"
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	SessionID string              `json:"session_id"`
	Message   string              `json:"message"`
	Images    []models.Attachment `json:"images,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		httpError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Images) == 0 {
		httpError(w, http.StatusBadRequest, "message or images required")
		return
	}

	state, release, ok := s.beginTurn(w, req.SessionID)
	if !ok {
		return
	}
	defer release()

	s.logger.Info("turn started", "session", req.SessionID, "images", len(req.Images))
	s.streamEvents(w, s.orch.Run(r.Context(), state, req.Message, req.Images))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	state, release, ok := s.beginTurn(w, sessionID)
	if !ok {
		return
	}
	defer release()

	userText, ok := state.Rollback()
	if !ok {
		httpError(w, http.StatusConflict, "no exchange to regenerate")
		return
	}

	s.logger.Info("regenerating last exchange", "session", sessionID)
	s.streamEvents(w, s.orch.Run(r.Context(), state, userText, nil))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	state, release, ok := s.beginTurn(w, sessionID)
	if !ok {
		return
	}
	defer release()

	state.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": state.Len()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.IDs()})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		httpError(w, http.StatusNotImplemented, "snapshots are not configured")
		return
	}
	sessionID, name := r.PathValue("id"), r.PathValue("name")
	state, release, ok := s.beginTurn(w, sessionID)
	if !ok {
		return
	}
	defer release()

	if err := s.archive.Save(r.Context(), state, name); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "name": name})
}

func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		httpError(w, http.StatusNotImplemented, "snapshots are not configured")
		return
	}
	sessionID, name := r.PathValue("id"), r.PathValue("name")
	state, release, ok := s.beginTurn(w, sessionID)
	if !ok {
		return
	}
	defer release()

	if err := s.archive.Load(r.Context(), state, name); err != nil {
		if errors.Is(err, conversation.ErrSnapshotNotFound) {
			httpError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"name":       name,
		"messages":   state.Len(),
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		httpError(w, http.StatusNotImplemented, "snapshots are not configured")
		return
	}
	snaps, err := s.archive.List(r.Context(), r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []conversation.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		httpError(w, http.StatusNotImplemented, "snapshots are not configured")
		return
	}
	if err := s.archive.Delete(r.Context(), r.PathValue("id"), r.PathValue("name")); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
