// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

const deleteReason = "会话已删除"

// SessionHandler handles session lifecycle requests.
type SessionHandler struct {
	store *store.SQLiteStore
	mgr   *session.Manager
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(s *store.SQLiteStore, mgr *session.Manager) *SessionHandler {
	return &SessionHandler{store: s, mgr: mgr}
}

type sessionCreateRequest struct {
	ProfileID int64 `json:"profile_id"`
	Quantity  int   `json:"quantity"`
}

// SessionInfo is the wire shape of one session.
type SessionInfo struct {
	SessionID  string         `json:"session_id"`
	Profile    *store.Profile `json:"profile"`
	Status     string         `json:"status"`
	ExitCode   *int           `json:"exit_code"`
	Cwd        string         `json:"cwd,omitempty"`
	LogPath    string         `json:"log_path"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at"`
}

type sessionCreateResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

func sessionInfo(rec *store.SessionRecord, profile *store.Profile) SessionInfo {
	return SessionInfo{
		SessionID:  rec.ID,
		Profile:    profile,
		Status:     rec.Status,
		ExitCode:   rec.ExitCode,
		Cwd:        rec.Cwd,
		LogPath:    rec.LogPath,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
	}
}

// Create spawns quantity new sessions for a profile. Quantity is clamped to
// the 1..10 range.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}
	if req.Quantity > 10 {
		req.Quantity = 10
	}

	profile, err := h.store.GetProfile(req.ProfileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteDetail(w, http.StatusNotFound, DetailProfileMissing)
			return
		}
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := sessionCreateResponse{Sessions: make([]SessionInfo, 0, req.Quantity)}
	for i := 0; i < req.Quantity; i++ {
		ctx, err := h.mgr.CreateSession(profile)
		if err != nil {
			WriteDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		rec := &store.SessionRecord{
			ID:        ctx.ID,
			ProfileID: profile.ID,
			Cwd:       ctx.Cwd,
			LogPath:   ctx.LogPath,
		}
		if err := h.store.CreateSession(rec); err != nil {
			h.mgr.TerminateSession(ctx.ID, "")
			WriteDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Sessions = append(resp.Sessions, sessionInfo(rec, profile))
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// List returns all session records, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListSessions()
	if err != nil {
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	profiles, err := h.store.ListProfiles()
	if err != nil {
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	byID := make(map[int64]*store.Profile, len(profiles))
	for i := range profiles {
		byID[profiles[i].ID] = profiles[i]
	}

	out := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, sessionInfo(rec, byID[rec.ProfileID]))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Delete terminates a live session, removes its record and cleans up the log
// directory.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.store.GetSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteDetail(w, http.StatusNotFound, DetailSessionMissing)
			return
		}
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.mgr.TerminateSession(id, deleteReason)

	if err := h.store.DeleteSession(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Best-effort: the directory only goes away once it is empty.
	if rec.LogPath != "" {
		os.Remove(rec.LogPath)
		os.Remove(filepath.Dir(rec.LogPath))
	}

	w.WriteHeader(http.StatusNoContent)
}
