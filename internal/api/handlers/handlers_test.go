// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellmux/shellmux/internal/session"
	"github.com/shellmux/shellmux/internal/store"
)

type testEnv struct {
	store  *store.SQLiteStore
	mgr    *session.Manager
	router *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mgr := session.NewManager(session.Config{
		LogsDir:      t.TempDir(),
		DefaultCwd:   t.TempDir(),
		GitDiffDelay: 10 * time.Millisecond,
	}, session.NewPipeBackend(), s)
	t.Cleanup(mgr.Shutdown)

	r := mux.NewRouter()
	r.HandleFunc("/health", Health).Methods("GET")

	ph := NewProfileHandler(s)
	r.HandleFunc("/profiles", ph.List).Methods("GET")
	r.HandleFunc("/profiles", ph.Create).Methods("POST")
	r.HandleFunc("/profiles/{id}", ph.Update).Methods("PUT")
	r.HandleFunc("/profiles/{id}", ph.Delete).Methods("DELETE")

	sh := NewSessionHandler(s, mgr)
	r.HandleFunc("/sessions", sh.Create).Methods("POST")
	r.HandleFunc("/sessions", sh.List).Methods("GET")
	r.HandleFunc("/sessions/{id}", sh.Delete).Methods("DELETE")

	lh := NewLogHandler(s, mgr)
	r.HandleFunc("/logs/{id}", lh.Get).Methods("GET")
	r.HandleFunc("/logs/{id}/content", lh.Clear).Methods("DELETE")

	gh := NewGitChangesHandler(s, mgr)
	r.HandleFunc("/git_changes/{id}", gh.Get).Methods("GET")

	return &testEnv{store: s, mgr: mgr, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProfileCRUD_HTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/profiles", map[string]interface{}{
		"name":    "sh",
		"command": "/bin/sh",
		"args":    []string{"-l"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[store.Profile](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "sh", created.Name)

	// Duplicate name
	rec = env.do(t, "POST", "/profiles", map[string]interface{}{
		"name":    "sh",
		"command": "/bin/bash",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, DetailProfileConflict, decodeBody[ErrorBody](t, rec).Detail)

	// Partial update
	rec = env.do(t, "PUT", "/profiles/"+itoa(created.ID), map[string]interface{}{
		"name": "bash",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[store.Profile](t, rec)
	assert.Equal(t, "bash", updated.Name)
	assert.Equal(t, "/bin/sh", updated.Command)

	rec = env.do(t, "PUT", "/profiles/99999", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DetailProfileMissing, decodeBody[ErrorBody](t, rec).Detail)

	rec = env.do(t, "GET", "/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]store.Profile](t, rec), 1)

	rec = env.do(t, "DELETE", "/profiles/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, "DELETE", "/profiles/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateProfile_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/profiles", map[string]interface{}{"name": "no-command"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func createProfile(t *testing.T, env *testEnv, name string) *store.Profile {
	t.Helper()
	p := &store.Profile{Name: name, Command: "/bin/sh", Args: []string{"-c", "sleep 5"}}
	require.NoError(t, env.store.CreateProfile(p))
	return p
}

func TestCreateSessions_QuantityClamped(t *testing.T) {
	env := newTestEnv(t)
	p := createProfile(t, env, "sh")

	rec := env.do(t, "POST", "/sessions", map[string]interface{}{
		"profile_id": p.ID,
		"quantity":   99,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[map[string][]SessionInfo](t, rec)
	assert.Len(t, resp["sessions"], 10)

	for _, info := range resp["sessions"] {
		assert.NotEmpty(t, info.SessionID)
		assert.Equal(t, store.StatusRunning, info.Status)
		assert.Nil(t, info.ExitCode)
		assert.Nil(t, info.FinishedAt)
		assert.NotEmpty(t, info.LogPath)
		require.NotNil(t, info.Profile)
		assert.Equal(t, p.ID, info.Profile.ID)
	}

	// Zero clamps up to one.
	rec = env.do(t, "POST", "/sessions", map[string]interface{}{
		"profile_id": p.ID,
		"quantity":   0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decodeBody[map[string][]SessionInfo](t, rec)["sessions"], 1)
}

func TestCreateSessions_UnknownProfile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/sessions", map[string]interface{}{"profile_id": 12345})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DetailProfileMissing, decodeBody[ErrorBody](t, rec).Detail)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	p := createProfile(t, env, "sh")

	rec := env.do(t, "POST", "/sessions", map[string]interface{}{"profile_id": p.ID, "quantity": 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, "GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]SessionInfo](t, rec)
	require.Len(t, list, 2)
	for _, info := range list {
		assert.Equal(t, store.StatusRunning, info.Status)
		require.NotNil(t, info.Profile)
		assert.Equal(t, "sh", info.Profile.Name)
	}
}

func TestDeleteSession_CleansUp(t *testing.T) {
	env := newTestEnv(t)
	p := createProfile(t, env, "sh")

	rec := env.do(t, "POST", "/sessions", map[string]interface{}{"profile_id": p.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decodeBody[map[string][]SessionInfo](t, rec)["sessions"][0]

	rec = env.do(t, "DELETE", "/sessions/"+info.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := env.store.GetSession(info.SessionID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = os.Stat(filepath.Dir(info.LogPath))
	assert.True(t, os.IsNotExist(err), "log directory should be removed")

	rec = env.do(t, "DELETE", "/sessions/"+info.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DetailSessionMissing, decodeBody[ErrorBody](t, rec).Detail)
}

func seedRecord(t *testing.T, env *testEnv, id, logPath string) {
	t.Helper()
	p := createProfile(t, env, "rec-"+id)
	require.NoError(t, env.store.CreateSession(&store.SessionRecord{
		ID:        id,
		ProfileID: p.ID,
		Cwd:       t.TempDir(),
		LogPath:   logPath,
	}))
}

func TestFetchLog_Historical(t *testing.T) {
	env := newTestEnv(t)

	logPath := filepath.Join(t.TempDir(), "raw.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old output"), 0o644))
	seedRecord(t, env, "hist-1", logPath)
	require.NoError(t, env.store.MarkFinished("hist-1", store.StatusCompleted, 0))

	rec := env.do(t, "GET", "/logs/hist-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[logResponse](t, rec)
	assert.Equal(t, "old output", resp.Content)
	assert.True(t, resp.Historical)
	require.NotNil(t, resp.Message)
	assert.Equal(t, historicalNotice, *resp.Message)
}

func TestFetchLog_Missing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DetailSessionMissing, decodeBody[ErrorBody](t, rec).Detail)

	seedRecord(t, env, "no-file", filepath.Join(t.TempDir(), "gone.log"))
	rec = env.do(t, "GET", "/logs/no-file", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, DetailLogMissing, decodeBody[ErrorBody](t, rec).Detail)
}

func TestFetchLog_Live(t *testing.T) {
	env := newTestEnv(t)

	p := &store.Profile{Name: "echoer", Command: "/bin/sh", Args: []string{"-c", "printf live; sleep 5"}}
	require.NoError(t, env.store.CreateProfile(p))

	rec := env.do(t, "POST", "/sessions", map[string]interface{}{"profile_id": p.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decodeBody[map[string][]SessionInfo](t, rec)["sessions"][0]

	_, err := env.mgr.Attach(info.SessionID, nopSubscriber{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec := env.do(t, "GET", "/logs/"+info.SessionID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		resp := decodeBody[logResponse](t, rec)
		return strings.Contains(resp.Content, "live") && !resp.Historical && resp.Message == nil
	}, 5*time.Second, 20*time.Millisecond)
}

type nopSubscriber struct{}

func (nopSubscriber) SendOutput(string) error { return nil }

func TestClearLog_HTTP(t *testing.T) {
	env := newTestEnv(t)

	logPath := filepath.Join(t.TempDir(), "raw.log")
	require.NoError(t, os.WriteFile(logPath, []byte("noise"), 0o644))
	seedRecord(t, env, "clear-1", logPath)

	rec := env.do(t, "DELETE", "/logs/clear-1/content", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	rec = env.do(t, "DELETE", "/logs/unknown/content", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGitChanges_NotARepo(t *testing.T) {
	env := newTestEnv(t)
	seedRecord(t, env, "plain", filepath.Join(t.TempDir(), "raw.log"))

	rec := env.do(t, "GET", "/git_changes/plain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[gitChangesResponse](t, rec)
	assert.False(t, resp.Git)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "not a git repository", *resp.Message)
}

func TestGitChanges_Repo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	env := newTestEnv(t)

	repo := t.TempDir()
	require.NoError(t, exec.Command("git", "-C", repo, "init", "-q").Run())
	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.txt"), []byte("x\n"), 0o644))

	p := createProfile(t, env, "repo")
	require.NoError(t, env.store.CreateSession(&store.SessionRecord{
		ID:        "in-repo",
		ProfileID: p.ID,
		Cwd:       repo,
		LogPath:   filepath.Join(t.TempDir(), "raw.log"),
	}))

	rec := env.do(t, "GET", "/git_changes/in-repo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[gitChangesResponse](t, rec)
	assert.True(t, resp.Git)
	require.Len(t, resp.Status, 1)
	assert.Equal(t, "??", resp.Status[0].Status)
	assert.Equal(t, "a.txt", resp.Status[0].Path)
}

func TestGitChanges_Unknown(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/git_changes/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
