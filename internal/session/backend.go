// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	ps "github.com/mitchellh/go-ps"
)

// Backend spawns child processes for sessions. Two implementations exist: a
// PTY back-end (preferred) and a plain pipe back-end (portable fallback).
type Backend interface {
	Spawn(command []string, cwd string, env []string) (Child, error)
}

// Child is a running session process. Outputs returns one reader for the PTY
// back-end and two (stdout, stderr) for the pipe back-end.
type Child interface {
	Outputs() []io.Reader
	// Write forwards input bytes to the child's stdin. Best-effort: a broken
	// pipe is swallowed, the monitor observes exit independently.
	Write(data string) error
	Resize(cols, rows int) error
	Alive() bool
	// Wait blocks until the child exits and returns its exit code
	// (-1 when the code is unknown, e.g. after a forced kill).
	Wait() int
	// Terminate sends a graceful termination signal, waits up to grace, then
	// forces a kill. Idempotent.
	Terminate(grace time.Duration)
	// Close releases the child's I/O streams, unblocking any pending reads.
	Close()
}

// exitState tracks child exit for both back-ends.
type exitState struct {
	exited   atomic.Bool
	exitCode int
	waitDone chan struct{}
}

func (e *exitState) finish(err error) {
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	e.exitCode = code
	e.exited.Store(true)
	close(e.waitDone)
}

func (e *exitState) wait() int {
	<-e.waitDone
	return e.exitCode
}

// --- PTY back-end ---

// PTYBackend runs children on a pseudo-terminal. The terminal is a single
// bidirectional byte stream and the PTY layer supplies echo and line
// discipline.
type PTYBackend struct{}

// NewPTYBackend creates a PTY back-end.
func NewPTYBackend() *PTYBackend {
	return &PTYBackend{}
}

// Spawn starts the command attached to a fresh PTY.
func (b *PTYBackend) Spawn(command []string, cwd string, env []string) (Child, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.Env = env

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command[0], err)
	}

	c := &ptyChild{
		cmd:  cmd,
		ptmx: ptmx,
	}
	c.exit.waitDone = make(chan struct{})
	go func() {
		c.exit.finish(cmd.Wait())
	}()
	return c, nil
}

type ptyChild struct {
	cmd       *exec.Cmd
	ptmx      *os.File
	exit      exitState
	closeOnce sync.Once
}

func (c *ptyChild) Outputs() []io.Reader {
	return []io.Reader{c.ptmx}
}

func (c *ptyChild) Write(data string) error {
	if data == "" {
		return nil
	}
	if _, err := c.ptmx.WriteString(data); err != nil && !isBrokenPipe(err) {
		return err
	}
	return nil
}

func (c *ptyChild) Resize(cols, rows int) error {
	return pty.Setsize(c.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (c *ptyChild) Alive() bool {
	return !c.exit.exited.Load()
}

func (c *ptyChild) Wait() int {
	return c.exit.wait()
}

func (c *ptyChild) Terminate(grace time.Duration) {
	if c.exit.exited.Load() {
		return
	}
	// pty.Start makes the child a session leader, so signal it directly.
	c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.exit.waitDone:
	case <-time.After(grace):
		c.cmd.Process.Kill()
		<-c.exit.waitDone
	}
}

func (c *ptyChild) Close() {
	c.closeOnce.Do(func() {
		c.ptmx.Close()
	})
}

// --- Pipe back-end ---

// PipeBackend runs children on plain pipes with separate stdout and stderr
// streams. Line-editing and signal behavior differ from a real terminal; a
// carriage return submitted by the client is translated to CRLF on stdin.
type PipeBackend struct{}

// NewPipeBackend creates a pipe back-end.
func NewPipeBackend() *PipeBackend {
	return &PipeBackend{}
}

// Spawn starts the command with stdin/stdout/stderr pipes in a new process
// group, so termination reaches child processes too.
func (b *PipeBackend) Spawn(command []string, cwd string, env []string) (Child, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain os.Pipe instead of cmd.StdoutPipe: Wait must not close the read
	// ends while buffered output from a short-lived child is still unread.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return nil, fmt.Errorf("spawn %s: %w", command[0], err)
	}

	// The child holds its own copies; the parent keeps only its ends so the
	// readers see EOF when the child exits.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	c := &pipeChild{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderrR,
		pid:    cmd.Process.Pid,
	}
	c.exit.waitDone = make(chan struct{})
	go func() {
		c.exit.finish(cmd.Wait())
	}()
	return c, nil
}

type pipeChild struct {
	cmd       *exec.Cmd
	stdin     *os.File
	stdout    *os.File
	stderr    *os.File
	pid       int
	exit      exitState
	closeOnce sync.Once
}

func (c *pipeChild) Outputs() []io.Reader {
	return []io.Reader{c.stdout, c.stderr}
}

func (c *pipeChild) Write(data string) error {
	if data == "" {
		return nil
	}
	// Without a PTY line discipline a bare CR would not submit the line.
	if data == "\r" {
		data = "\r\n"
	}
	if _, err := io.WriteString(c.stdin, data); err != nil && !isBrokenPipe(err) {
		return err
	}
	return nil
}

func (c *pipeChild) Resize(cols, rows int) error {
	return nil // pipes have no window size
}

func (c *pipeChild) Alive() bool {
	if c.exit.exited.Load() {
		return false
	}
	// The waiter may not have observed the exit yet; probe the process table.
	proc, err := ps.FindProcess(c.pid)
	return err == nil && proc != nil
}

func (c *pipeChild) Wait() int {
	return c.exit.wait()
}

func (c *pipeChild) Terminate(grace time.Duration) {
	if c.exit.exited.Load() {
		return
	}
	// Signal the process group (negative PID) to reach child processes too.
	syscall.Kill(-c.pid, syscall.SIGTERM)
	select {
	case <-c.exit.waitDone:
	case <-time.After(grace):
		syscall.Kill(-c.pid, syscall.SIGKILL)
		<-c.exit.waitDone
	}
}

func (c *pipeChild) Close() {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		c.stdout.Close()
		c.stderr.Close()
	})
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EIO) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
