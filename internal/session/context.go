// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session owns live terminal sessions: spawning children through a
// back-end, pumping their output to subscribers and a raw log, and parsing
// keystroke input.
package session

import (
	"os"
	"sync"
	"sync/atomic"
)

// Subscriber receives output text for a session. Implementations are expected
// to serialize their own writes.
type Subscriber interface {
	SendOutput(data string) error
}

// Context is the in-memory state of one session. The child is spawned lazily
// by the first attach; a context without a child is idle.
type Context struct {
	ID        string
	ProfileID int64
	Command   []string
	Cwd       string
	Env       []string
	LogPath   string

	// mu serializes stdin writes and the surrounding git sampling window, and
	// guards the lazy spawn. Holding it across the settle delay is deliberate:
	// a second Enter must not interleave with an in-flight snapshot pair.
	mu            sync.Mutex
	child         Child
	commandBuffer string
	cwdHasGit     bool

	logMu   sync.Mutex
	logFile *os.File

	// pumps tracks the reader goroutines so the monitor can let them drain
	// before closing the log.
	pumps sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[Subscriber]struct{}

	// finalized flips exactly once, either by the exit monitor or by an
	// explicit terminate. Whoever wins runs the teardown.
	finalized atomic.Bool
}

func newContext(id string, profileID int64, command []string, cwd string, env []string, logPath string, cwdHasGit bool) *Context {
	return &Context{
		ID:          id,
		ProfileID:   profileID,
		Command:     command,
		Cwd:         cwd,
		Env:         env,
		LogPath:     logPath,
		cwdHasGit:   cwdHasGit,
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Active reports whether the context has a live child.
func (c *Context) Active() bool {
	c.mu.Lock()
	child := c.child
	c.mu.Unlock()
	return child != nil && child.Alive()
}

func (c *Context) getChild() Child {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.child
}

func (c *Context) clearChild() {
	c.mu.Lock()
	c.child = nil
	c.mu.Unlock()
}

func (c *Context) addSubscriber(sub Subscriber) {
	c.subMu.Lock()
	c.subscribers[sub] = struct{}{}
	c.subMu.Unlock()
}

func (c *Context) removeSubscriber(sub Subscriber) {
	c.subMu.Lock()
	delete(c.subscribers, sub)
	c.subMu.Unlock()
}

// snapshotSubscribers returns the current subscriber set. Broadcasts iterate
// the snapshot so a slow subscriber being dropped cannot deadlock the pump.
func (c *Context) snapshotSubscribers() []Subscriber {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := make([]Subscriber, 0, len(c.subscribers))
	for sub := range c.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (c *Context) subscriberCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscribers)
}

func (c *Context) appendLog(data []byte) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.logFile == nil {
		return
	}
	c.logFile.Write(data)
}

func (c *Context) truncateLog() bool {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.logFile == nil {
		return false
	}
	// O_APPEND writes continue from the new end after truncation.
	return c.logFile.Truncate(0) == nil
}

func (c *Context) closeLog() {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}
