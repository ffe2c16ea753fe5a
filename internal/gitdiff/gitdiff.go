// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gitdiff runs git status/diff commands in a session's working
// directory and computes the before/after delta injected into terminal output.
package gitdiff

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

const (
	deltaHeader = "=== Git Diff Before/After ==="
	deltaFooter = "=============================="
	noChanges   = "无文件变更"
)

// StatusEntry is one row of `git status --short` output.
type StatusEntry struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// Delta is the difference between two status snapshots. Entries are already
// rendered ("path (code)" / "path (old -> new)").
type Delta struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether all buckets are empty.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// runGit runs a git command in cwd and returns its stdout. A missing git
// binary or non-zero exit returns ok=false; the caller treats that as
// "not a repository / git unavailable".
func runGit(ctx context.Context, cwd string, args ...string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", cwd}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(output), true
}

// StatusMap returns the `git status --short` output as a path → status-code
// map, or nil if git fails. Later lines for the same path overwrite earlier
// ones.
func StatusMap(ctx context.Context, cwd string) map[string]string {
	output, ok := runGit(ctx, cwd, "status", "--short")
	if !ok {
		return nil
	}
	return ParseStatus(output)
}

// StatusRows returns the `git status --short` output as ordered rows, or nil
// if git fails.
func StatusRows(ctx context.Context, cwd string) []StatusEntry {
	output, ok := runGit(ctx, cwd, "status", "--short")
	if !ok {
		return nil
	}
	var rows []StatusEntry
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		code, path := splitStatusLine(line)
		rows = append(rows, StatusEntry{Status: code, Path: path})
	}
	return rows
}

// DiffStat returns the `git diff --stat` output, or an unset string if git
// fails.
func DiffStat(ctx context.Context, cwd string) (string, bool) {
	return runGit(ctx, cwd, "diff", "--stat")
}

// ParseStatus parses `git status --short` output into a path → code map.
func ParseStatus(output string) map[string]string {
	status := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		code, path := splitStatusLine(line)
		status[path] = code
	}
	return status
}

// splitStatusLine splits a short-status line into its two-character code
// (whitespace-stripped) and path. Format: XY<space>PATH.
func splitStatusLine(line string) (code, path string) {
	if len(line) < 3 {
		return strings.TrimSpace(line), ""
	}
	return strings.TrimSpace(line[:2]), strings.TrimSpace(line[3:])
}

// Diff computes the delta between two status snapshots. Added is after∖before,
// Deleted is before∖after, Modified is the overlap with differing codes.
// Paths within each bucket are sorted so output is deterministic.
func Diff(before, after map[string]string) Delta {
	var delta Delta
	for _, path := range sortedKeys(after) {
		code := after[path]
		prev, existed := before[path]
		switch {
		case !existed:
			delta.Added = append(delta.Added, fmt.Sprintf("%s (%s)", path, code))
		case prev != code:
			delta.Modified = append(delta.Modified, fmt.Sprintf("%s (%s -> %s)", path, prev, code))
		}
	}
	for _, path := range sortedKeys(before) {
		if _, exists := after[path]; !exists {
			delta.Deleted = append(delta.Deleted, fmt.Sprintf("%s (%s)", path, before[path]))
		}
	}
	return delta
}

// Format renders a delta as the block injected into the output stream.
func Format(delta Delta, command string) string {
	if delta.Empty() {
		return deltaHeader + "\n" + noChanges + "\n" + deltaFooter
	}
	lines := []string{deltaHeader}
	if command != "" {
		lines = append(lines, "Command: "+command)
	}
	if len(delta.Added) > 0 {
		lines = append(lines, "Added:")
		for _, item := range delta.Added {
			lines = append(lines, "  "+item)
		}
	}
	if len(delta.Modified) > 0 {
		lines = append(lines, "Modified:")
		for _, item := range delta.Modified {
			lines = append(lines, "  "+item)
		}
	}
	if len(delta.Deleted) > 0 {
		lines = append(lines, "Deleted:")
		for _, item := range delta.Deleted {
			lines = append(lines, "  "+item)
		}
	}
	lines = append(lines, deltaFooter)
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
