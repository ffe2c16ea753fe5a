// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

const historicalNotice = "以下内容来自历史日志，仅供回放。"

// LogHandler serves the per-session raw logs.
type LogHandler struct {
	store *store.SQLiteStore
	mgr   *session.Manager
}

// NewLogHandler creates a new log handler.
func NewLogHandler(s *store.SQLiteStore, mgr *session.Manager) *LogHandler {
	return &LogHandler{store: s, mgr: mgr}
}

type logResponse struct {
	SessionID  string  `json:"session_id"`
	Content    string  `json:"content"`
	Historical bool    `json:"historical"`
	Message    *string `json:"message"`
}

// Get returns the session's log content. For sessions without a live context
// the on-disk log is served as a historical replay.
func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	content, live := h.mgr.GetLogText(id)
	rec, recErr := h.store.GetSession(id)

	if !live {
		if recErr != nil {
			if errors.Is(recErr, store.ErrNotFound) {
				WriteDetail(w, http.StatusNotFound, DetailSessionMissing)
				return
			}
			WriteDetail(w, http.StatusInternalServerError, recErr.Error())
			return
		}
		data, err := os.ReadFile(rec.LogPath)
		if err != nil {
			WriteDetail(w, http.StatusNotFound, DetailLogMissing)
			return
		}
		content = strings.ToValidUTF8(string(data), "")
	}

	historical := !live || (recErr == nil && rec.Terminal())
	resp := logResponse{SessionID: id, Content: content, Historical: historical}
	if historical {
		msg := historicalNotice
		resp.Message = &msg
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Clear truncates the session's log. Live subscribers are notified.
func (h *LogHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	logPath := h.mgr.ResolveLogPath(id)
	if logPath == "" {
		rec, err := h.store.GetSession(id)
		if err != nil {
			WriteDetail(w, http.StatusNotFound, DetailSessionMissing)
			return
		}
		logPath = rec.LogPath
	}

	if err := h.mgr.ClearLog(id, logPath); err != nil {
		WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
