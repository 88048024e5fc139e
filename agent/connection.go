// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"sync"

	"github.com/ananasregina/GooseBot/acp"
)

// State is the protocol state of a Connection.
type State int

const (
	// StateUninitialized: subprocess spawned, handshake not complete.
	StateUninitialized State = iota
	// StateReady: handshake complete, no call outstanding.
	StateReady
	// StateBusy: exactly one call outstanding.
	StateBusy
	// StateFailed: transport or process failure; the connection must
	// be discarded and respawned.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Connection binds one conversation to one agent subprocess and the
// agent-side session living in it. The Manager exclusively owns the
// subprocess; callers hold only a reference.
type Connection struct {
	key          string
	client       *acp.Client
	capabilities acp.Capabilities

	mu        sync.Mutex
	sessionID string
	state     State
}

// SessionID returns the opaque agent-side session identity.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the current protocol state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// beginCall transitions Ready -> Busy, or reports why it cannot.
func (c *Connection) beginCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateBusy:
		return ErrAgentBusy
	case StateReady:
		c.state = StateBusy
		return nil
	default:
		return ErrAgentUnavailable
	}
}

// endCall transitions Busy -> Ready (success) or Busy -> Failed.
func (c *Connection) endCall(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if failed {
		c.state = StateFailed
		return
	}
	if c.state == StateBusy {
		c.state = StateReady
	}
}

func (c *Connection) markFailed() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}
