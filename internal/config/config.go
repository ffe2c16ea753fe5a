// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads server configuration from an HJSON file with
// environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Paths   PathsConfig   `json:"paths"`
	Session SessionConfig `json:"session"`
	Profile ProfileConfig `json:"profile"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`
}

// PathsConfig configures on-disk locations. Empty fields are derived from
// BaseDir by applyDefaults.
type PathsConfig struct {
	BaseDir      string `json:"base_dir"`
	DataDir      string `json:"data_dir"`
	LogsDir      string `json:"logs_dir"`
	DatabasePath string `json:"database_path"`
}

// SessionConfig configures session behavior.
type SessionConfig struct {
	// Backend selects the process back-end: "pty" or "pipe".
	Backend    string `json:"backend"`
	DefaultCwd string `json:"default_cwd"`
	// GitDiffDelay is the settle time in seconds between a submitted command
	// and the after snapshot of git status.
	GitDiffDelay float64 `json:"git_diff_delay"`
}

// ProfileConfig configures the seeded default profile.
type ProfileConfig struct {
	DefaultName    string `json:"default_name"`
	DefaultCommand string `json:"default_command"`
}

// GitDiffDelay returns the settle delay as a duration.
func (c *Config) GitDiffDelay() time.Duration {
	return time.Duration(c.Session.GitDiffDelay * float64(time.Second))
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// EnsureDirs creates the data and logs directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	// Overrides run first so derived paths follow an overridden base dir.
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}

	// Path defaults derive from the base directory
	if cfg.Paths.BaseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Paths.BaseDir = cwd
		} else {
			cfg.Paths.BaseDir = "."
		}
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = filepath.Join(cfg.Paths.BaseDir, "backend", "data")
	}
	if cfg.Paths.LogsDir == "" {
		cfg.Paths.LogsDir = filepath.Join(cfg.Paths.BaseDir, "backend", "logs")
	}
	if cfg.Paths.DatabasePath == "" {
		cfg.Paths.DatabasePath = filepath.Join(cfg.Paths.DataDir, "terminal_manage.db")
	}

	// Session defaults
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = "pty"
	}
	if cfg.Session.DefaultCwd == "" {
		cfg.Session.DefaultCwd = cfg.Paths.BaseDir
	}
	if cfg.Session.GitDiffDelay == 0 {
		cfg.Session.GitDiffDelay = 0.35
	}

	// Default profile
	if cfg.Profile.DefaultName == "" {
		cfg.Profile.DefaultName = "默认 PowerShell"
	}
	if cfg.Profile.DefaultCommand == "" {
		if runtime.GOOS == "windows" {
			cfg.Profile.DefaultCommand = "pwsh"
		} else {
			cfg.Profile.DefaultCommand = "bash"
		}
	}
}

// applyEnvOverrides lets SHELLMUX_* environment variables override file
// values. Invalid numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SHELLMUX_HOST", &cfg.Server.Host)
	setString("SHELLMUX_TLS_CERT", &cfg.Server.TLSCert)
	setString("SHELLMUX_TLS_KEY", &cfg.Server.TLSKey)
	if v := os.Getenv("SHELLMUX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setString("SHELLMUX_BASE_DIR", &cfg.Paths.BaseDir)
	setString("SHELLMUX_DATA_DIR", &cfg.Paths.DataDir)
	setString("SHELLMUX_LOGS_DIR", &cfg.Paths.LogsDir)
	setString("SHELLMUX_DATABASE_PATH", &cfg.Paths.DatabasePath)
	setString("SHELLMUX_BACKEND", &cfg.Session.Backend)
	setString("SHELLMUX_DEFAULT_CWD", &cfg.Session.DefaultCwd)
	if v := os.Getenv("SHELLMUX_GIT_DIFF_DELAY"); v != "" {
		if delay, err := strconv.ParseFloat(v, 64); err == nil && delay >= 0 {
			cfg.Session.GitDiffDelay = delay
		}
	}
	setString("SHELLMUX_DEFAULT_PROFILE_NAME", &cfg.Profile.DefaultName)
	setString("SHELLMUX_DEFAULT_PROFILE_COMMAND", &cfg.Profile.DefaultCommand)
}
