// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gitdiff

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	output := " M internal/app.go\n?? notes.txt\nA  cmd/main.go\n"
	status := ParseStatus(output)

	assert.Equal(t, "M", status["internal/app.go"])
	assert.Equal(t, "??", status["notes.txt"])
	assert.Equal(t, "A", status["cmd/main.go"])
	assert.Len(t, status, 3)
}

func TestParseStatus_Empty(t *testing.T) {
	assert.Empty(t, ParseStatus(""))
	assert.Empty(t, ParseStatus("\n\n"))
}

func TestParseStatus_DuplicatePathLastWins(t *testing.T) {
	output := "?? a.txt\n M a.txt\n"
	status := ParseStatus(output)
	assert.Equal(t, "M", status["a.txt"])
	assert.Len(t, status, 1)
}

func TestParseStatus_Stable(t *testing.T) {
	// Re-serializing parsed output and parsing again yields the same map.
	output := " M a.go\n?? b.txt\nD  c.md\n"
	first := ParseStatus(output)

	var lines []string
	for path, code := range first {
		lines = append(lines, code+"  "+path)
	}
	second := ParseStatus(strings.Join(lines, "\n"))
	for path, code := range first {
		assert.Equal(t, code, second[path])
	}
}

func TestDiff(t *testing.T) {
	before := map[string]string{
		"kept.go":    "M",
		"changed.go": "M",
		"gone.go":    "??",
	}
	after := map[string]string{
		"kept.go":    "M",
		"changed.go": "A",
		"new.go":     "??",
	}

	delta := Diff(before, after)
	assert.Equal(t, []string{"new.go (??)"}, delta.Added)
	assert.Equal(t, []string{"changed.go (M -> A)"}, delta.Modified)
	assert.Equal(t, []string{"gone.go (??)"}, delta.Deleted)
}

func TestDiff_Identity(t *testing.T) {
	snapshot := map[string]string{"a.go": "M", "b.go": "??"}
	delta := Diff(snapshot, snapshot)
	assert.True(t, delta.Empty())
}

func TestDiff_SortedWithinBuckets(t *testing.T) {
	after := map[string]string{"z.go": "??", "a.go": "??", "m.go": "??"}
	delta := Diff(map[string]string{}, after)
	assert.Equal(t, []string{"a.go (??)", "m.go (??)", "z.go (??)"}, delta.Added)
}

func TestFormat_Empty(t *testing.T) {
	text := Format(Delta{}, "touch x")
	assert.Equal(t, "=== Git Diff Before/After ===\n无文件变更\n==============================", text)
}

func TestFormat(t *testing.T) {
	delta := Delta{
		Added:    []string{"x (??)"},
		Modified: []string{"y (M -> A)"},
		Deleted:  []string{"z (D)"},
	}
	text := Format(delta, "touch x")

	lines := strings.Split(text, "\n")
	assert.Equal(t, []string{
		"=== Git Diff Before/After ===",
		"Command: touch x",
		"Added:",
		"  x (??)",
		"Modified:",
		"  y (M -> A)",
		"Deleted:",
		"  z (D)",
		"==============================",
	}, lines)
}

func TestFormat_NoCommand(t *testing.T) {
	delta := Delta{Added: []string{"x (??)"}}
	text := Format(delta, "")
	assert.NotContains(t, text, "Command:")
	assert.Contains(t, text, "Added:")
}

func TestStatusMap_NotARepo(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, StatusMap(context.Background(), dir))
	assert.Nil(t, StatusRows(context.Background(), dir))
	_, ok := DiffStat(context.Background(), dir)
	assert.False(t, ok)
}

func TestStatusMap_Repo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, exec.CommandContext(ctx, "git", "-C", dir, "init", "-q").Run())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi\n"), 0o644))

	status := StatusMap(ctx, dir)
	require.NotNil(t, status)
	assert.Equal(t, "??", status["hello.txt"])

	rows := StatusRows(ctx, dir)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusEntry{Status: "??", Path: "hello.txt"}, rows[0])
}
