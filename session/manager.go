// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ananasregina/GooseBot/agent"
	"github.com/ananasregina/GooseBot/lib/clock"
	"github.com/ananasregina/GooseBot/stream"
)

// ManagerConfig holds the configuration for a Manager.
type ManagerConfig struct {
	// Agents owns the per-conversation subprocess connections.
	Agents *agent.Manager

	// Store persists conversation records across restarts.
	Store *Store

	// Gate tracks the listening window per conversation.
	Gate *Gate

	// DefaultAgentName names sessions whose conversation has not set
	// one.
	DefaultAgentName string

	// MinFlushInterval and FlushSizeThreshold configure streamed
	// output throttling. See stream.Config.
	MinFlushInterval   time.Duration
	FlushSizeThreshold int

	// Clock abstracts time. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default().
	Logger *slog.Logger
}

// Status is a read-only snapshot of one conversation's state.
type Status struct {
	AgentName    string
	HasSession   bool
	LastActiveAt time.Time
	Pending      bool
}

// sessionState pairs the durable record with the runtime pending flag.
type sessionState struct {
	record  Record
	pending bool
}

// Manager coordinates turns, commands, persistence, and the listening
// window for every conversation. All public methods are safe for
// concurrent use; the pending flag serializes turns within one
// conversation while turns in different conversations run in parallel.
type Manager struct {
	agents             *agent.Manager
	store              *Store
	gate               *Gate
	defaultAgentName   string
	minFlushInterval   time.Duration
	flushSizeThreshold int
	clock              clock.Clock
	logger             *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewManager creates a Manager, restoring records from the store and
// seeding the listening window from their last activity.
func NewManager(config ManagerConfig) *Manager {
	manager := &Manager{
		agents:             config.Agents,
		store:              config.Store,
		gate:               config.Gate,
		defaultAgentName:   config.DefaultAgentName,
		minFlushInterval:   config.MinFlushInterval,
		flushSizeThreshold: config.FlushSizeThreshold,
		clock:              config.Clock,
		logger:             config.Logger,
		sessions:           make(map[string]*sessionState),
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.Default()
	}

	for key, record := range manager.store.Load() {
		manager.sessions[key] = &sessionState{record: record}
		manager.gate.Seed(key, record.LastActiveAt)
	}
	manager.logger.Info("session records restored", "count", len(manager.sessions))
	return manager
}

// SubmitTurn runs one user turn for the conversation: resolve or
// create the record, reach a ready agent connection, stream the
// response into the target, and on success refresh activity state and
// persist any record change.
//
// If a turn is already in flight for the key, the call fails with
// ErrSessionBusy before touching the subprocess. Every failure path
// delivers exactly one final message to the target.
func (m *Manager) SubmitTurn(ctx context.Context, key, author, text string, attachments []agent.Attachment, target stream.Target) error {
	aggregator := stream.New(stream.Config{
		Target:           target,
		MinFlushInterval: m.minFlushInterval,
		SizeThreshold:    m.flushSizeThreshold,
		Clock:            m.clock,
		Logger:           m.logger,
	})

	m.mu.Lock()
	state, ok := m.sessions[key]
	if !ok {
		state = &sessionState{record: Record{
			AgentName: m.defaultAgentName,
			CreatedAt: m.clock.Now(),
		}}
		m.sessions[key] = state
	}
	if state.pending {
		m.mu.Unlock()
		aggregator.FinishError(ctx, "Still working on the previous message. Give me a moment.")
		return ErrSessionBusy
	}
	state.pending = true
	savedSessionID := state.record.SessionID
	m.mu.Unlock()

	m.logger.Info("turn started", "conversation", key, "author", author,
		"attachments", len(attachments))

	connection, err := m.agents.EnsureReady(ctx, key, savedSessionID)
	if err != nil {
		m.finishFailure(ctx, key, aggregator, err)
		return err
	}

	result, err := m.agents.SendTurn(ctx, connection, text, attachments, func(fragment string) {
		aggregator.Append(ctx, fragment)
	})
	if err != nil {
		m.finishFailure(ctx, key, aggregator, err)
		return err
	}

	if result.Degraded {
		aggregator.Append(ctx, "\n\n(attachments were ignored: this agent cannot view images)")
	}
	aggregator.Finish(ctx, "(no response)")

	m.mu.Lock()
	state.pending = false
	if m.sessions[key] != state {
		// Cleared or restarted while the turn ran. The response was
		// already delivered; dropping the bookkeeping makes the reset
		// stick: no record update, no listening window.
		m.mu.Unlock()
		m.logger.Info("conversation reset during turn", "conversation", key)
		return nil
	}
	state.record.LastActiveAt = m.clock.Now()
	changed := state.record.SessionID != connection.SessionID()
	state.record.SessionID = connection.SessionID()
	if changed {
		m.saveLocked()
	}
	m.mu.Unlock()

	m.gate.Touch(key)
	m.logger.Info("turn completed", "conversation", key,
		"stop_reason", result.StopReason, "degraded", result.Degraded)
	return nil
}

// finishFailure clears the pending flag and delivers the single final
// error message for a failed turn. The listening window is not
// refreshed: a failed turn does not hold the conversation open.
func (m *Manager) finishFailure(ctx context.Context, key string, aggregator *stream.Aggregator, err error) {
	m.mu.Lock()
	if state, ok := m.sessions[key]; ok {
		state.pending = false
	}
	m.mu.Unlock()

	m.logger.Warn("turn failed", "conversation", key, "error", err)
	aggregator.FinishError(ctx, userMessage(err))
}

// userMessage maps the error taxonomy to the text shown in chat. Raw
// transport detail stays in the log.
func userMessage(err error) string {
	switch {
	case errors.Is(err, agent.ErrAgentTimeout):
		return "The agent took too long to respond and was stopped."
	case errors.Is(err, agent.ErrAgentBusy):
		return "The agent is busy with another request. Try again shortly."
	case errors.Is(err, agent.ErrAgentUnavailable):
		return "The agent is unavailable right now. Try again shortly."
	default:
		return "Something went wrong while talking to the agent."
	}
}

// Clear forgets the conversation entirely: record, store entry,
// listening window, and live connection. The next message starts a
// brand-new session.
func (m *Manager) Clear(key string) error {
	err := m.remove(key, false)
	m.logger.Info("conversation cleared", "conversation", key)
	return err
}

// Restart is Clear followed by immediate recreation of an empty
// record, so the conversation keeps its entry (and any future name
// set) while dropping the agent session.
func (m *Manager) Restart(key string) error {
	err := m.remove(key, true)
	m.logger.Info("conversation restarted", "conversation", key)
	return err
}

func (m *Manager) remove(key string, recreate bool) error {
	m.mu.Lock()
	delete(m.sessions, key)
	if recreate {
		m.sessions[key] = &sessionState{record: Record{
			AgentName: m.defaultAgentName,
			CreatedAt: m.clock.Now(),
		}}
	}
	err := m.saveLocked()
	m.mu.Unlock()

	m.gate.Clear(key)
	m.agents.Teardown(key)
	return err
}

// SetName sets the agent display name used when this conversation's
// next session is created. A running connection is unaffected.
func (m *Manager) SetName(key, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[key]
	if !ok {
		state = &sessionState{record: Record{
			AgentName: m.defaultAgentName,
			CreatedAt: m.clock.Now(),
		}}
		m.sessions[key] = state
	}
	state.record.AgentName = name
	return m.saveLocked()
}

// Status returns a read-only snapshot of the conversation, and whether
// a record exists at all.
func (m *Manager) Status(key string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[key]
	if !ok {
		return Status{}, false
	}
	return Status{
		AgentName:    state.record.AgentName,
		HasSession:   state.record.SessionID != "",
		LastActiveAt: state.record.LastActiveAt,
		Pending:      state.pending,
	}, true
}

// Compact asks the agent to compact the conversation's session
// context. The session id stays valid. Fails with ErrNoSession when
// the conversation has no established session, and with ErrSessionBusy
// when a turn is in flight.
func (m *Manager) Compact(ctx context.Context, key string) error {
	m.mu.Lock()
	state, ok := m.sessions[key]
	if !ok || state.record.SessionID == "" {
		m.mu.Unlock()
		return ErrNoSession
	}
	if state.pending {
		m.mu.Unlock()
		return ErrSessionBusy
	}
	state.pending = true
	savedSessionID := state.record.SessionID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		state.pending = false
		m.mu.Unlock()
	}()

	connection, err := m.agents.EnsureReady(ctx, key, savedSessionID)
	if err != nil {
		return err
	}
	if err := m.agents.Compact(ctx, connection); err != nil {
		m.logger.Warn("compaction failed", "conversation", key, "error", err)
		return err
	}
	m.logger.Info("session compacted", "conversation", key)
	return nil
}

// ActiveSessions reports how many conversations have an established
// session and how many have a turn in flight.
func (m *Manager) ActiveSessions() (active, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.sessions {
		if state.record.SessionID != "" {
			active++
		}
		if state.pending {
			pending++
		}
	}
	return active, pending
}

// saveLocked persists the current record set. Must be called with m.mu
// held; the lock serializes writes to the store.
func (m *Manager) saveLocked() error {
	records := make(map[string]Record, len(m.sessions))
	for key, state := range m.sessions {
		records[key] = state.record
	}
	if err := m.store.Save(records); err != nil {
		m.logger.Error("persisting session records failed", "error", err)
		return err
	}
	return nil
}
