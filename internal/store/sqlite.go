// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the durable store using an embedded SQLite database.
// It uses modernc.org/sqlite which is pure Go (no CGO).
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex // serializes writes (SQLite is single-writer)
}

// Open opens or creates the database at dbPath and runs schema migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Single connection for writes to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			command TEXT NOT NULL,
			args TEXT NOT NULL DEFAULT '[]',
			cwd TEXT,
			env TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			profile_id INTEGER NOT NULL REFERENCES profiles(id),
			cwd TEXT,
			log_path TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	// Lifecycle columns added after the initial schema shipped.
	s.addColumnIfNotExists("sessions", "status", "TEXT NOT NULL DEFAULT 'running'")
	s.addColumnIfNotExists("sessions", "finished_at", "DATETIME")
	s.addColumnIfNotExists("sessions", "exit_code", "INTEGER")

	return nil
}

// addColumnIfNotExists attempts to add a column to a table, ignoring the error
// if the column already exists (SQLite returns "duplicate column name").
func (s *SQLiteStore) addColumnIfNotExists(table, column, colType string) {
	_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType))
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

// CreateProfile inserts a new profile. Returns ErrNameConflict when the name
// is already taken.
func (s *SQLiteStore) CreateProfile(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO profiles (name, command, args, cwd, env, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.Name, p.Command, marshalArgs(p.Args), nullable(p.Cwd), marshalEnv(p.Env), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdateProfile applies non-nil fields to an existing profile and returns the
// updated row. Returns ErrNotFound or ErrNameConflict.
func (s *SQLiteStore) UpdateProfile(id int64, name, command *string, args *[]string, cwd *string, env *map[string]string) (*Profile, error) {
	s.mu.Lock()

	current, err := s.getProfileLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if name != nil {
		current.Name = *name
	}
	if command != nil {
		current.Command = *command
	}
	if args != nil {
		current.Args = *args
	}
	if cwd != nil {
		current.Cwd = *cwd
	}
	if env != nil {
		current.Env = *env
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(
		"UPDATE profiles SET name = ?, command = ?, args = ?, cwd = ?, env = ?, updated_at = ? WHERE id = ?",
		current.Name, current.Command, marshalArgs(current.Args), nullable(current.Cwd), marshalEnv(current.Env), current.UpdatedAt, id,
	)
	s.mu.Unlock()
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameConflict
		}
		return nil, err
	}
	return current, nil
}

// GetProfile returns one profile by id.
func (s *SQLiteStore) GetProfile(id int64) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProfileLocked(id)
}

func (s *SQLiteStore) getProfileLocked(id int64) (*Profile, error) {
	row := s.db.QueryRow(
		"SELECT id, name, command, args, cwd, env, created_at, updated_at FROM profiles WHERE id = ?", id,
	)
	return scanProfile(row)
}

// GetProfileByName returns one profile by its unique name.
func (s *SQLiteStore) GetProfileByName(name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT id, name, command, args, cwd, env, created_at, updated_at FROM profiles WHERE name = ?", name,
	)
	return scanProfile(row)
}

// ListProfiles returns all profiles ordered by id.
func (s *SQLiteStore) ListProfiles() ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, name, command, args, cwd, env, created_at, updated_at FROM profiles ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile. Returns ErrNotFound when absent.
func (s *SQLiteStore) DeleteProfile(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedDefaultProfile inserts the default profile iff no profile with the
// given name exists. Runs once at startup.
func (s *SQLiteStore) SeedDefaultProfile(name, command, cwd string) error {
	if _, err := s.GetProfileByName(name); err == nil {
		return nil
	} else if err != ErrNotFound {
		return err
	}
	return s.CreateProfile(&Profile{
		Name:    name,
		Command: command,
		Cwd:     cwd,
		Args:    []string{},
		Env:     map[string]string{},
	})
}

// --- Session records ---

// CreateSession inserts a session record in the running state.
func (s *SQLiteStore) CreateSession(rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusRunning
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, profile_id, cwd, log_path, created_at, status) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.ProfileID, nullable(rec.Cwd), rec.LogPath, rec.CreatedAt, rec.Status,
	)
	return err
}

// GetSession returns one session record.
func (s *SQLiteStore) GetSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT id, profile_id, cwd, log_path, created_at, status, finished_at, exit_code FROM sessions WHERE id = ?", id,
	)
	return scanSession(row)
}

// ListSessions returns all session records, newest first.
func (s *SQLiteStore) ListSessions() ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, profile_id, cwd, log_path, created_at, status, finished_at, exit_code FROM sessions ORDER BY created_at DESC, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteSession removes a session record. Returns ErrNotFound when absent.
func (s *SQLiteStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverOrphans marks every record still in the running state as
// interrupted. Called once at startup, before any session is created; this is
// the only place the interrupted status is assigned.
func (s *SQLiteStore) RecoverOrphans() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE sessions SET status = ?, finished_at = ? WHERE status = ?",
		StatusInterrupted, time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkFinished records the child's exit. No-op when the record is missing or
// already terminal.
func (s *SQLiteStore) MarkFinished(id, status string, exitCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE sessions SET status = ?, exit_code = ?, finished_at = ? WHERE id = ? AND status = ?",
		status, exitCode, time.Now().UTC(), id, StatusRunning,
	)
	return err
}

// MarkStopped records an explicit termination. No-op when the record is
// missing or already terminal.
func (s *SQLiteStore) MarkStopped(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE sessions SET status = ?, finished_at = ? WHERE id = ? AND status = ?",
		StatusStopped, time.Now().UTC(), id, StatusRunning,
	)
	return err
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p    Profile
		args string
		env  string
		cwd  sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &p.Command, &args, &cwd, &env, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Cwd = cwd.String
	p.Args = unmarshalArgs(args)
	p.Env = unmarshalEnv(env)
	return &p, nil
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec      SessionRecord
		cwd      sql.NullString
		finished sql.NullTime
		exit     sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.ProfileID, &cwd, &rec.LogPath, &rec.CreatedAt, &rec.Status, &finished, &exit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Cwd = cwd.String
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	if exit.Valid {
		code := int(exit.Int64)
		rec.ExitCode = &code
	}
	return &rec, nil
}

func marshalArgs(args []string) string {
	if args == nil {
		args = []string{}
	}
	data, _ := json.Marshal(args)
	return string(data)
}

func unmarshalArgs(data string) []string {
	var args []string
	if err := json.Unmarshal([]byte(data), &args); err != nil || args == nil {
		return []string{}
	}
	return args
}

func marshalEnv(env map[string]string) string {
	if env == nil {
		env = map[string]string{}
	}
	data, _ := json.Marshal(env)
	return string(data)
}

func unmarshalEnv(data string) map[string]string {
	var env map[string]string
	if err := json.Unmarshal([]byte(data), &env); err != nil || env == nil {
		return map[string]string{}
	}
	return env
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
