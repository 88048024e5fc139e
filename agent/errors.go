// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import "errors"

var (
	// ErrAgentUnavailable means the agent subprocess could not be
	// started, failed its handshake, or died mid-turn. Recoverable:
	// the next turn respawns.
	ErrAgentUnavailable = errors.New("agent: unavailable")

	// ErrAgentTimeout means a turn exceeded the configured ceiling.
	// The connection is torn down; the next turn respawns.
	ErrAgentTimeout = errors.New("agent: turn timed out")

	// ErrAgentBusy means a call was attempted while another is
	// outstanding on the same connection. The transport is a single
	// ordered stream, so calls are never interleaved.
	ErrAgentBusy = errors.New("agent: call already in flight")

	// ErrProtocol means the agent emitted a malformed frame. The
	// connection is marked failed and torn down.
	ErrProtocol = errors.New("agent: protocol failure")
)
