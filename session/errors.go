// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// ErrSessionBusy indicates a turn is already in flight for the
// conversation. The caller should tell the user to wait rather than
// queue the message.
var ErrSessionBusy = errors.New("session: a turn is already in flight")

// ErrNoSession indicates an operation that needs an established
// agent session was invoked on a conversation that has none.
var ErrNoSession = errors.New("session: no active session")
