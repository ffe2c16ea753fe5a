// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity. Run after defaults are applied.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535")
	}
	if cfg.Server.Host == "" {
		errs.Add("server.host", "is required")
	}
	switch cfg.Session.Backend {
	case "pty", "pipe":
	default:
		errs.Add("session.backend", `must be "pty" or "pipe"`)
	}
	if cfg.Session.GitDiffDelay < 0 {
		errs.Add("session.git_diff_delay", "must not be negative")
	}
	if cfg.Paths.BaseDir == "" {
		errs.Add("paths.base_dir", "is required")
	}
	if cfg.Profile.DefaultName == "" {
		errs.Add("profile.default_name", "is required")
	}
	if cfg.Profile.DefaultCommand == "" {
		errs.Add("profile.default_command", "is required")
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}
