// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/shellmux/shellmux/internal/gitdiff"
	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

// GitChangesHandler reports the working-tree state of a session's cwd.
type GitChangesHandler struct {
	store *store.SQLiteStore
	mgr   *session.Manager
}

// NewGitChangesHandler creates a new git changes handler.
func NewGitChangesHandler(s *store.SQLiteStore, mgr *session.Manager) *GitChangesHandler {
	return &GitChangesHandler{store: s, mgr: mgr}
}

type gitChangesResponse struct {
	Git      bool                  `json:"git"`
	Message  *string               `json:"message,omitempty"`
	Status   []gitdiff.StatusEntry `json:"status,omitempty"`
	DiffStat *string               `json:"diff_stat,omitempty"`
}

// Get returns git status rows and diff --stat for the session's cwd.
func (h *GitChangesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var cwd string
	if ctx, err := h.mgr.Get(id); err == nil {
		cwd = ctx.Cwd
	} else if rec, err := h.store.GetSession(id); err == nil {
		cwd = rec.Cwd
	}
	if cwd == "" {
		WriteDetail(w, http.StatusNotFound, DetailSessionMissing)
		return
	}

	if _, err := os.Stat(filepath.Join(cwd, ".git")); err != nil {
		msg := "not a git repository"
		WriteJSON(w, http.StatusOK, gitChangesResponse{Git: false, Message: &msg})
		return
	}

	resp := gitChangesResponse{Git: true}
	resp.Status = gitdiff.StatusRows(r.Context(), cwd)
	if stat, ok := gitdiff.DiffStat(r.Context(), cwd); ok {
		resp.DiffStat = &stat
	}
	WriteJSON(w, http.StatusOK, resp)
}
