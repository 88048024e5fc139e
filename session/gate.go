// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/ananasregina/GooseBot/lib/clock"
)

// Gate tracks, per conversation, when the last turn completed
// successfully. While the listening window is open, unaddressed
// messages in that conversation are still treated as part of an
// ongoing exchange. Failed turns do not hold the window open.
type Gate struct {
	window time.Duration
	clock  clock.Clock

	mu            sync.Mutex
	lastCompleted map[string]time.Time
}

// NewGate creates a Gate with the given window. A zero or negative
// window means unaddressed messages are never accepted.
func NewGate(window time.Duration, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{
		window:        window,
		clock:         clk,
		lastCompleted: make(map[string]time.Time),
	}
}

// Touch records a successful turn completion now.
func (g *Gate) Touch(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCompleted[key] = g.clock.Now()
}

// Seed records a completion time restored from the persistent store,
// so the window survives a bot restart.
func (g *Gate) Seed(key string, completedAt time.Time) {
	if completedAt.IsZero() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCompleted[key] = completedAt
}

// Listening reports whether the conversation's window is open.
func (g *Gate) Listening(key string) bool {
	g.mu.Lock()
	lastCompleted, ok := g.lastCompleted[key]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return g.clock.Now().Sub(lastCompleted) <= g.window
}

// Clear forgets the conversation's completion time.
func (g *Gate) Clear(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastCompleted, key)
}
