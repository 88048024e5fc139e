// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the per-conversation state of the bot: which
// agent-side session each conversation maps to, whether a turn is in
// flight, and how recently the conversation was active.
//
// The Manager is the single entry point for everything a conversation
// can do; the chat gateway never touches agent connections or the
// persistent store directly.
package session

import "time"

// Record is the durable state of one conversation. Everything else
// (the pending flag, the live connection) is runtime-only and
// reconstructed after a restart.
type Record struct {
	// SessionID is the agent-side session identifier, used to resume
	// the conversation across subprocess restarts. Empty until the
	// first successful turn.
	SessionID string `json:"session_id"`

	// AgentName is the display name for this conversation's agent.
	AgentName string `json:"agent_name"`

	// CreatedAt is when the conversation's record was first created.
	CreatedAt time.Time `json:"created_at"`

	// LastActiveAt is when the last turn completed successfully. It
	// seeds the listening window after a restart.
	LastActiveAt time.Time `json:"last_active_at"`
}
