// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists session profiles and session records in SQLite.
package store

import (
	"errors"
	"time"
)

// Session status values. A record leaves "running" exactly once and never
// returns to it.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusStopped     = "stopped"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

var (
	// ErrNotFound is returned when a profile or session record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNameConflict is returned when a profile name is already taken.
	ErrNameConflict = errors.New("profile name already exists")
)

// Profile is a named command template for spawning sessions.
type Profile struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SessionRecord is the durable row for one session.
type SessionRecord struct {
	ID         string
	ProfileID  int64
	Cwd        string
	LogPath    string
	CreatedAt  time.Time
	Status     string
	FinishedAt *time.Time
	ExitCode   *int
}

// Terminal reports whether the record has reached a terminal status.
func (r SessionRecord) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusStopped, StatusError, StatusInterrupted:
		return true
	}
	return false
}
