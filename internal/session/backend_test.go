// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader, deadline time.Duration) string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		done <- string(data)
	}()
	select {
	case out := <-done:
		return out
	case <-time.After(deadline):
		t.Fatal("timed out reading child output")
		return ""
	}
}

func TestPipeBackend_CaptureOutput(t *testing.T) {
	child, err := NewPipeBackend().Spawn([]string{"/bin/sh", "-c", "printf hello"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	outputs := child.Outputs()
	require.Len(t, outputs, 2)

	assert.Equal(t, "hello", readAll(t, outputs[0], 5*time.Second))
	assert.Equal(t, 0, child.Wait())
	assert.False(t, child.Alive())
}

func TestPipeBackend_StderrStream(t *testing.T) {
	child, err := NewPipeBackend().Spawn([]string{"/bin/sh", "-c", "printf oops 1>&2"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	assert.Equal(t, "oops", readAll(t, child.Outputs()[1], 5*time.Second))
	assert.Equal(t, 0, child.Wait())
}

func TestPipeBackend_ExitCode(t *testing.T) {
	child, err := NewPipeBackend().Spawn([]string{"/bin/sh", "-c", "exit 3"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	assert.Equal(t, 3, child.Wait())
}

func TestPipeBackend_CRTranslatedToCRLF(t *testing.T) {
	// head exits after one line, so a bare CR must become CRLF for the line
	// to terminate at all.
	child, err := NewPipeBackend().Spawn([]string{"head", "-n", "1"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	require.NoError(t, child.Write("hi"))
	require.NoError(t, child.Write("\r"))

	assert.Equal(t, "hi\r\n", readAll(t, child.Outputs()[0], 5*time.Second))
	assert.Equal(t, 0, child.Wait())
}

func TestPipeBackend_Terminate(t *testing.T) {
	child, err := NewPipeBackend().Spawn([]string{"sleep", "30"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	require.True(t, child.Alive())
	child.Terminate(time.Second)
	assert.False(t, child.Alive())
	assert.NotEqual(t, 0, child.Wait())

	// Idempotent on a dead child.
	child.Terminate(time.Second)
}

func TestPipeBackend_WriteAfterExitSwallowed(t *testing.T) {
	child, err := NewPipeBackend().Spawn([]string{"true"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	child.Wait()
	assert.NoError(t, child.Write("ignored\r"))
}

func TestPipeBackend_EmptyCommand(t *testing.T) {
	_, err := NewPipeBackend().Spawn(nil, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestPTYBackend_CaptureOutput(t *testing.T) {
	child, err := NewPTYBackend().Spawn([]string{"/bin/sh", "-c", "printf hello"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	outputs := child.Outputs()
	require.Len(t, outputs, 1)

	buf := make([]byte, 64)
	var collected string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && collected != "hello" {
		n, err := outputs[0].Read(buf)
		if n > 0 {
			collected += string(buf[:n])
			continue
		}
		if err != nil && !child.Alive() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "hello", collected)
	assert.Equal(t, 0, child.Wait())
}

func TestPTYBackend_Terminate(t *testing.T) {
	child, err := NewPTYBackend().Spawn([]string{"sleep", "30"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer child.Close()

	require.True(t, child.Alive())
	child.Terminate(time.Second)
	assert.False(t, child.Alive())
	assert.NotEqual(t, 0, child.Wait())
}

func TestPTYBackend_Resize(t *testing.T) {
	child, err := NewPTYBackend().Spawn([]string{"sleep", "5"}, t.TempDir(), nil)
	require.NoError(t, err)
	defer func() {
		child.Terminate(time.Second)
		child.Close()
	}()

	assert.NoError(t, child.Resize(120, 40))
}
