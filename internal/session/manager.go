// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shellmux/shellmux/internal/gitdiff"
	"github.com/shellmux/shellmux/internal/store"
)

var (
	// ErrNotFound is returned when the session id is not in the registry.
	ErrNotFound = errors.New("session not found")
	// ErrChildUnavailable is returned when input arrives for a session whose
	// child is gone.
	ErrChildUnavailable = errors.New("child process unavailable")
)

const (
	readBufferSize = 1024
	readRetryDelay = 50 * time.Millisecond
	terminateGrace = 2 * time.Second

	logFileName = "raw.log"

	clearedNotice = "\r\n[日志已清空]\r\n"
)

// Recorder persists lifecycle transitions of session records. Updates run off
// the pump goroutines and are best-effort: a missing record is a no-op.
type Recorder interface {
	MarkFinished(id, status string, exitCode int) error
	MarkStopped(id string) error
}

// Config carries the manager's tunables.
type Config struct {
	// LogsDir is the root under which each session gets its own directory.
	LogsDir string
	// DefaultCwd is used when a profile has no working directory.
	DefaultCwd string
	// GitDiffDelay is the settle time between forwarding a carriage return
	// and taking the after snapshot.
	GitDiffDelay time.Duration
}

// Manager is the registry of live sessions. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg      Config
	backend  Backend
	recorder Recorder
	baseEnv  []string

	mu       sync.RWMutex
	sessions map[string]*Context
}

// NewManager creates a manager. The base environment is captured once and
// treated as immutable.
func NewManager(cfg Config, backend Backend, recorder Recorder) *Manager {
	return &Manager{
		cfg:      cfg,
		backend:  backend,
		recorder: recorder,
		baseEnv:  os.Environ(),
		sessions: make(map[string]*Context),
	}
}

// CreateSession registers a new idle context for the profile. The child is
// not spawned until the first attach.
func (m *Manager) CreateSession(profile *store.Profile) (*Context, error) {
	id := uuid.NewString()

	cwd := profile.Cwd
	if cwd == "" {
		cwd = m.cfg.DefaultCwd
	}
	command := append([]string{profile.Command}, profile.Args...)
	env := mergeEnv(m.baseEnv, profile.Env)

	logDir := filepath.Join(m.cfg.LogsDir, id)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logPath := filepath.Join(logDir, logFileName)

	ctx := newContext(id, profile.ID, command, cwd, env, logPath, hasGitDir(cwd))

	m.mu.Lock()
	m.sessions[id] = ctx
	m.mu.Unlock()

	log.Printf("session: created %s (profile %d, cwd %s)", id, profile.ID, cwd)
	return ctx, nil
}

// Attach adds a subscriber to the session, spawning the child on the first
// attach. A spawn failure removes the session and marks its record as errored.
func (m *Manager) Attach(id string, sub Subscriber) (*Context, error) {
	ctx, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	ctx.addSubscriber(sub)

	// The stdin mutex doubles as the spawn guard: two concurrent first
	// attaches cannot both see a nil child.
	ctx.mu.Lock()
	if ctx.child == nil && !ctx.finalized.Load() {
		if err := m.launchLocked(ctx); err != nil {
			ctx.mu.Unlock()
			ctx.removeSubscriber(sub)
			m.abortSpawn(ctx)
			return nil, err
		}
	}
	ctx.mu.Unlock()

	return ctx, nil
}

// launchLocked spawns the child and starts pumps and monitor. Caller holds
// ctx.mu.
func (m *Manager) launchLocked(ctx *Context) error {
	child, err := m.backend.Spawn(ctx.Command, ctx.Cwd, ctx.Env)
	if err != nil {
		return fmt.Errorf("session %s: %w", ctx.ID, err)
	}

	logFile, err := os.OpenFile(ctx.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		child.Terminate(0)
		child.Close()
		return fmt.Errorf("session %s: open log: %w", ctx.ID, err)
	}

	ctx.child = child
	ctx.logMu.Lock()
	ctx.logFile = logFile
	ctx.logMu.Unlock()

	for _, r := range child.Outputs() {
		ctx.pumps.Add(1)
		go func(r io.Reader) {
			defer ctx.pumps.Done()
			m.pump(ctx, child, r)
		}(r)
	}
	go m.monitor(ctx, child)

	log.Printf("session: %s spawned %s (pid tracked by back-end)", ctx.ID, ctx.Command[0])
	return nil
}

// abortSpawn cleans up after a failed first spawn: the context leaves the
// registry and the record is marked errored so it does not linger as running.
func (m *Manager) abortSpawn(ctx *Context) {
	if !ctx.finalized.CompareAndSwap(false, true) {
		return
	}
	ctx.closeLog()
	m.remove(ctx.ID)
	if err := m.recorder.MarkFinished(ctx.ID, store.StatusError, -1); err != nil {
		log.Printf("session: %s record update failed: %v", ctx.ID, err)
	}
}

// Detach removes the subscriber. The child keeps running with an empty
// subscriber set; output accumulates in the log.
func (m *Manager) Detach(id string, sub Subscriber) {
	m.mu.RLock()
	ctx := m.sessions[id]
	m.mu.RUnlock()
	if ctx != nil {
		ctx.removeSubscriber(sub)
	}
}

// SendInput feeds client keystrokes through the parser to the child's stdin.
// Calls for the same session are serialized on the context mutex.
func (m *Manager) SendInput(id string, data string) error {
	ctx, err := m.Get(id)
	if err != nil {
		return err
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.child == nil || ctx.finalized.Load() {
		return ErrChildUnavailable
	}
	m.processInput(ctx, ctx.child, data)
	return nil
}

// processInput walks the input one code point at a time, maintaining the
// command buffer and batching ordinary characters into single writes. Caller
// holds ctx.mu.
func (m *Manager) processInput(ctx *Context, child Child, data string) {
	if data == "" {
		return
	}
	var pending strings.Builder

	flush := func() {
		if pending.Len() > 0 {
			child.Write(pending.String())
			pending.Reset()
		}
	}

	for _, ch := range data {
		switch ch {
		case '\b', '\x7f': // backspace / delete
			ctx.commandBuffer = trimLastRune(ctx.commandBuffer)
			pending.WriteRune(ch)
		case '\x03': // Ctrl-C
			ctx.commandBuffer = ""
			pending.WriteRune(ch)
			flush()
		case '\r', '\n':
			flush()
			m.handleNewline(ctx, child, ch)
		default:
			ctx.commandBuffer += string(ch)
			pending.WriteRune(ch)
		}
	}
	flush()
}

// handleNewline forwards a line terminator and, for a carriage return in a
// git working directory, brackets it with before/after status snapshots.
// Caller holds ctx.mu; the settle delay intentionally runs under it so a
// second Enter cannot interleave with the sampling window.
func (m *Manager) handleNewline(ctx *Context, child Child, ch rune) {
	var before map[string]string
	var label string

	if ch == '\r' {
		if !ctx.cwdHasGit && hasGitDir(ctx.Cwd) {
			ctx.cwdHasGit = true
		}
		if ctx.cwdHasGit {
			before = gitdiff.StatusMap(context.Background(), ctx.Cwd)
			label = strings.TrimSpace(ctx.commandBuffer)
		}
		ctx.commandBuffer = ""
	}

	child.Write(string(ch))

	if before == nil {
		return
	}
	time.Sleep(m.cfg.GitDiffDelay)

	after := gitdiff.StatusMap(context.Background(), ctx.Cwd)
	if after == nil {
		ctx.cwdHasGit = false
		return
	}
	delta := gitdiff.Diff(before, after)
	if !delta.Empty() {
		m.broadcast(ctx, gitdiff.Format(delta, label)+"\r\n")
	}
}

// pump drains one child output stream: raw bytes to the log, a lossy UTF-8
// decode to every subscriber.
func (m *Manager) pump(ctx *Context, child Child, r io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			ctx.appendLog(chunk)
			m.broadcast(ctx, strings.ToValidUTF8(string(chunk), ""))
		}
		if err != nil {
			// PTY reads fail with EIO once the child is gone; while it is
			// still alive an error is transient and worth retrying.
			if !child.Alive() {
				return
			}
			time.Sleep(readRetryDelay)
			continue
		}
		if n == 0 {
			if !child.Alive() {
				return
			}
			time.Sleep(readRetryDelay)
		}
	}
}

// broadcast fans a string out to the current subscriber snapshot, dropping
// any subscriber whose send fails.
func (m *Manager) broadcast(ctx *Context, text string) {
	if text == "" {
		return
	}
	for _, sub := range ctx.snapshotSubscribers() {
		if err := sub.SendOutput(text); err != nil {
			ctx.removeSubscriber(sub)
			log.Printf("session: %s dropped subscriber: %v", ctx.ID, err)
		}
	}
}

// monitor awaits child exit and finalizes the session unless an explicit
// terminate got there first.
func (m *Manager) monitor(ctx *Context, child Child) {
	code := child.Wait()

	// Let the pumps drain buffered output before the log closes. Bounded: a
	// grandchild holding the PTY open must not wedge finalization.
	drained := make(chan struct{})
	go func() {
		ctx.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
	}

	if !ctx.finalized.CompareAndSwap(false, true) {
		return
	}

	status := store.StatusCompleted
	if code != 0 {
		status = store.StatusError
	}

	m.broadcast(ctx, fmt.Sprintf("\r\nProcess finished with code %d\r\n", code))
	ctx.closeLog()
	child.Close()
	ctx.clearChild()
	m.remove(ctx.ID)

	if err := m.recorder.MarkFinished(ctx.ID, status, code); err != nil {
		log.Printf("session: %s record update failed: %v", ctx.ID, err)
	}
	log.Printf("session: %s exited with code %d (%s)", ctx.ID, code, status)
}

// TerminateSession stops the child (graceful, then forced), broadcasts the
// reason if given, marks the record stopped and evicts the context.
// Idempotent: a missing id is a no-op.
func (m *Manager) TerminateSession(id, reason string) {
	m.mu.RLock()
	ctx := m.sessions[id]
	m.mu.RUnlock()
	if ctx == nil {
		return
	}

	if !ctx.finalized.CompareAndSwap(false, true) {
		m.remove(id)
		return
	}

	if child := ctx.getChild(); child != nil {
		child.Terminate(terminateGrace)
		child.Close()
	}
	ctx.closeLog()
	ctx.clearChild()
	if reason != "" {
		m.broadcast(ctx, "\r\n"+reason+"\r\n")
	}
	m.remove(id)

	if err := m.recorder.MarkStopped(id); err != nil {
		log.Printf("session: %s record update failed: %v", id, err)
	}
	log.Printf("session: %s terminated (%s)", id, reason)
}

// Resize adjusts the child's terminal window, where the back-end supports it.
func (m *Manager) Resize(id string, cols, rows int) error {
	ctx, err := m.Get(id)
	if err != nil {
		return err
	}
	child := ctx.getChild()
	if child == nil {
		return ErrChildUnavailable
	}
	return child.Resize(cols, rows)
}

// HasSession reports whether the id is in the registry.
func (m *Manager) HasSession(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// IsActive reports whether the session has a live child.
func (m *Manager) IsActive(id string) bool {
	m.mu.RLock()
	ctx := m.sessions[id]
	m.mu.RUnlock()
	return ctx != nil && ctx.Active()
}

// Get returns the context for the id.
func (m *Manager) Get(id string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ctx, nil
}

// ResolveLogPath returns the log path for a live session, or "" when the id
// is unknown.
func (m *Manager) ResolveLogPath(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ctx, ok := m.sessions[id]; ok {
		return ctx.LogPath
	}
	return ""
}

// GetLogText reads the on-disk log for a live session, decoding lossily.
func (m *Manager) GetLogText(id string) (string, bool) {
	path := m.ResolveLogPath(id)
	if path == "" {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.ToValidUTF8(string(data), ""), true
}

// ClearLog truncates the session's raw log. For a live session the open
// handle is truncated in place and subscribers are notified; otherwise the
// file at logPath is emptied on disk.
func (m *Manager) ClearLog(id, logPath string) error {
	m.mu.RLock()
	ctx := m.sessions[id]
	m.mu.RUnlock()

	if ctx != nil {
		if ctx.truncateLog() {
			m.broadcast(ctx, clearedNotice)
			return nil
		}
		logPath = ctx.LogPath
	}
	if logPath == "" {
		return os.ErrNotExist
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	return nil
}

// Shutdown terminates every live session. Used on server exit.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.TerminateSession(id, "")
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// mergeEnv overlays entries onto the base environment; overlay keys win.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return append([]string(nil), base...)
	}
	merged := make(map[string]string, len(base)+len(overlay))
	order := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for k, v := range overlay {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return string(runes[:len(runes)-1])
}

func hasGitDir(cwd string) bool {
	info, err := os.Stat(filepath.Join(cwd, ".git"))
	return err == nil && info.IsDir()
}
