// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent manages one goose subprocess per active conversation
// and the ACP exchange over its standard streams.
//
// The Manager is the only mutator of the connection registry; session
// code obtains connections through EnsureReady and returns them to the
// registry's lifecycle through Teardown. Transport and process errors
// never escape raw: they are translated into the package's error
// taxonomy at this boundary.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ananasregina/GooseBot/acp"
	"github.com/ananasregina/GooseBot/lib/clock"
)

// Attachment is an image payload received from the chat surface.
type Attachment struct {
	Data     []byte
	MimeType string
}

// TurnResult summarizes a completed turn. The streamed text was
// already delivered through the onChunk callback.
type TurnResult struct {
	// StopReason is the agent's reported stop reason, if any.
	StopReason string

	// Degraded is true when attachments were dropped because the
	// negotiated capability set does not include image prompts.
	Degraded bool
}

// ManagerConfig holds the configuration for a Manager.
type ManagerConfig struct {
	// Binary is the goose CLI path.
	Binary string

	// WorkingDirectory is where agent sessions start.
	WorkingDirectory string

	// Model is passed through to the subprocess environment.
	Model string

	// TurnTimeout is the ceiling on one SendTurn call. Zero disables
	// the ceiling.
	TurnTimeout time.Duration

	// Clock abstracts time for the turn timeout. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default().
	Logger *slog.Logger

	// SpawnClient overrides subprocess creation. Tests inject a
	// client bound to in-memory pipes. If nil, acp.Spawn is used.
	SpawnClient func(ctx context.Context) (*acp.Client, error)
}

// Manager owns the conversation-key -> Connection registry.
type Manager struct {
	config ManagerConfig
	clock  clock.Clock
	logger *slog.Logger
	spawn  func(ctx context.Context) (*acp.Client, error)

	mu          sync.Mutex
	connections map[string]*Connection
	generations map[string]uint64
}

// NewManager creates a Manager.
func NewManager(config ManagerConfig) *Manager {
	manager := &Manager{
		config:      config,
		clock:       config.Clock,
		logger:      config.Logger,
		spawn:       config.SpawnClient,
		connections: make(map[string]*Connection),
		generations: make(map[string]uint64),
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}
	if manager.spawn == nil {
		manager.spawn = func(ctx context.Context) (*acp.Client, error) {
			return acp.Spawn(ctx, acp.SpawnConfig{
				Binary:           config.Binary,
				WorkingDirectory: config.WorkingDirectory,
				Model:            config.Model,
				Logger:           manager.logger,
			})
		}
	}
	return manager
}

// EnsureReady returns a Ready connection for the conversation key,
// spawning a fresh subprocess if none exists or the existing one has
// failed. When savedSessionID is non-empty and the agent supports
// session loading, the session is resumed; if the agent rejects it,
// a new session is created silently and the connection's SessionID
// reflects the replacement.
//
// A spawn or handshake failure is retried once before surfacing
// ErrAgentUnavailable. The whole sequence shares the TurnTimeout
// ceiling: a subprocess that wedges during spawn, initialize, or
// resume fails the turn with ErrAgentTimeout instead of stalling the
// conversation forever.
func (m *Manager) EnsureReady(ctx context.Context, key, savedSessionID string) (*Connection, error) {
	m.mu.Lock()
	existing, hadExisting := m.connections[key]
	if hadExisting && existing.State() != StateFailed {
		m.mu.Unlock()
		return existing, nil
	}
	delete(m.connections, key)
	generation := m.generations[key]
	m.mu.Unlock()
	if hadExisting {
		existing.client.Close()
	}

	connectCtx, cancelConnect := context.WithCancel(ctx)
	defer cancelConnect()

	type connectOutcome struct {
		connection *Connection
		err        error
	}
	outcomes := make(chan connectOutcome, 1)
	go func() {
		connection, err := m.connect(connectCtx, key, savedSessionID)
		if err != nil && connectCtx.Err() == nil {
			m.logger.Warn("agent spawn failed, retrying once", "conversation", key, "error", err)
			connection, err = m.connect(connectCtx, key, savedSessionID)
		}
		outcomes <- connectOutcome{connection, err}
	}()

	var timeout <-chan time.Time
	if m.config.TurnTimeout > 0 {
		timeout = m.clock.After(m.config.TurnTimeout)
	}

	var outcome connectOutcome
	select {
	case <-timeout:
		// Cancelling the connect context unblocks the handshake; the
		// goroutine then tears its client down on the error path.
		cancelConnect()
		outcome = <-outcomes
		if outcome.connection != nil {
			outcome.connection.client.Close()
		}
		m.logger.Warn("agent handshake timed out", "conversation", key)
		return nil, ErrAgentTimeout
	case outcome = <-outcomes:
	}
	if outcome.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, outcome.err)
	}
	connection := outcome.connection

	m.mu.Lock()
	if m.generations[key] != generation {
		// Teardown ran while we were connecting: the conversation was
		// reset and the session this connection resolved is gone.
		m.mu.Unlock()
		connection.client.Close()
		return nil, fmt.Errorf("%w: conversation was reset during connect", ErrAgentUnavailable)
	}
	m.connections[key] = connection
	m.mu.Unlock()
	return connection, nil
}

// connect spawns a subprocess, performs the handshake, and resolves
// the agent-side session (resume or create).
func (m *Manager) connect(ctx context.Context, key, savedSessionID string) (*Connection, error) {
	client, err := m.spawn(ctx)
	if err != nil {
		return nil, err
	}

	capabilities, err := client.Initialize(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	sessionID := savedSessionID
	if sessionID != "" {
		if !capabilities.LoadSession {
			m.logger.Info("agent does not support session loading, starting fresh",
				"conversation", key, "stale_session", sessionID)
			sessionID = ""
		} else if loadErr := client.LoadSession(ctx, sessionID, m.config.WorkingDirectory); loadErr != nil {
			// The agent no longer knows this session. Recovered
			// locally: start fresh, never surfaced to the user.
			m.logger.Info("session resume rejected, starting fresh",
				"conversation", key, "stale_session", sessionID, "error", loadErr)
			sessionID = ""
		}
	}

	if sessionID == "" {
		sessionID, err = client.NewSession(ctx, m.config.WorkingDirectory)
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	m.logger.Info("agent connection ready", "conversation", key, "session_id", sessionID)
	return &Connection{
		key:          key,
		client:       client,
		capabilities: capabilities,
		sessionID:    sessionID,
		state:        StateReady,
	}, nil
}

// SendTurn issues one session/prompt call for the user's turn.
// Attachments are included only when the negotiated capabilities allow
// image prompts; otherwise they are dropped and the result is marked
// Degraded. onChunk receives streamed text fragments in order.
//
// Exactly one call may be outstanding per connection; a concurrent
// call fails with ErrAgentBusy. On timeout or transport failure the
// connection is torn down and the error taxonomy applies.
func (m *Manager) SendTurn(ctx context.Context, connection *Connection, text string, attachments []Attachment, onChunk func(string)) (TurnResult, error) {
	if err := connection.beginCall(); err != nil {
		return TurnResult{}, err
	}

	var result TurnResult
	prompt := []acp.ContentBlock{acp.TextBlock(text)}
	if len(attachments) > 0 {
		if connection.capabilities.Prompt.Image {
			for _, attachment := range attachments {
				prompt = append(prompt, acp.ImageBlock(attachment.Data, attachment.MimeType))
			}
		} else {
			result.Degraded = true
			m.logger.Warn("dropping attachments: agent lacks image prompt support",
				"conversation", connection.key, "count", len(attachments))
		}
	}

	type promptOutcome struct {
		result acp.PromptResult
		err    error
	}
	outcome := make(chan promptOutcome, 1)
	go func() {
		promptResult, err := connection.client.Prompt(ctx, connection.SessionID(), prompt, onChunk)
		outcome <- promptOutcome{promptResult, err}
	}()

	var timeout <-chan time.Time
	if m.config.TurnTimeout > 0 {
		timeout = m.clock.After(m.config.TurnTimeout)
	}

	select {
	case <-timeout:
		m.failConnection(connection)
		return result, ErrAgentTimeout

	case <-ctx.Done():
		m.failConnection(connection)
		return result, fmt.Errorf("%w: %v", ErrAgentUnavailable, ctx.Err())

	case finished := <-outcome:
		if finished.err != nil {
			return result, m.translate(connection, finished.err)
		}
		connection.endCall(false)
		result.StopReason = finished.result.StopReason
		return result, nil
	}
}

// Compact issues a session/compact call. The agent-side session id
// remains valid afterwards.
func (m *Manager) Compact(ctx context.Context, connection *Connection) error {
	if err := connection.beginCall(); err != nil {
		return err
	}
	if err := connection.client.Compact(ctx, connection.SessionID()); err != nil {
		return m.translate(connection, err)
	}
	connection.endCall(false)
	return nil
}

// translate maps acp-layer failures into the package taxonomy and
// updates connection state. RPC error responses leave the stream in
// sync, so the connection stays usable; transport failures do not.
func (m *Manager) translate(connection *Connection, err error) error {
	var rpcError *acp.RPCError
	if errors.As(err, &rpcError) {
		connection.endCall(false)
		return fmt.Errorf("agent reported an error: %s", rpcError.Message)
	}

	m.failConnection(connection)
	if errors.Is(err, acp.ErrMalformedFrame) {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
}

// failConnection marks a connection failed and tears its subprocess
// down. The registry entry stays until the next EnsureReady so the
// failure is observable via State.
func (m *Manager) failConnection(connection *Connection) {
	connection.markFailed()
	connection.client.Close()
	m.logger.Warn("agent connection failed", "conversation", connection.key)
}

// Teardown removes and closes the connection for a conversation key.
// Safe to call when no connection exists; the generation bump makes a
// concurrent EnsureReady discard its connection instead of inserting
// it after the reset.
func (m *Manager) Teardown(key string) {
	m.mu.Lock()
	connection, ok := m.connections[key]
	delete(m.connections, key)
	m.generations[key]++
	m.mu.Unlock()

	if ok {
		connection.markFailed()
		connection.client.Close()
		m.logger.Info("agent connection torn down", "conversation", key)
	}
}

// Close tears down every connection. Called at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	connections := m.connections
	m.connections = make(map[string]*Connection)
	for key := range m.generations {
		m.generations[key]++
	}
	m.mu.Unlock()

	for _, connection := range connections {
		connection.markFailed()
		connection.client.Close()
	}
}
