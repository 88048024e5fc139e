// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ananasregina/GooseBot/acp"
	"github.com/ananasregina/GooseBot/agent"
	"github.com/ananasregina/GooseBot/lib/clock"
	"github.com/ananasregina/GooseBot/lib/testutil"
)

// scriptedAgent serves the agent side of the protocol over in-memory
// pipes, one goroutine per spawned subprocess.
type scriptedAgent struct {
	t *testing.T

	rejectLoad bool
	chunks     []string

	// muteInitialize drops initialize requests on the floor, modelling
	// an agent that wedges during the handshake.
	muteInitialize bool

	// promptHold, when non-nil, delays prompt responses until
	// released. Guarded because tests swap it between turns while the
	// serve goroutine is live.
	mu         sync.Mutex
	promptHold chan struct{}

	sessionCount atomic.Int64
	promptCount  atomic.Int64
	prompts      chan string
}

func (s *scriptedAgent) setHold(hold chan struct{}) {
	s.mu.Lock()
	s.promptHold = hold
	s.mu.Unlock()
}

func (s *scriptedAgent) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptHold
}

func newScriptedAgent(t *testing.T) *scriptedAgent {
	return &scriptedAgent{
		t:       t,
		chunks:  []string{"Hel", "lo", " world"},
		prompts: make(chan string, 16),
	}
}

func (s *scriptedAgent) spawn(ctx context.Context) (*acp.Client, error) {
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	s.t.Cleanup(func() {
		stdinWriter.Close()
		stdoutWriter.Close()
	})
	go s.serve(stdinReader, stdoutWriter)
	return acp.New(stdinWriter, stdoutReader, discardLogger()), nil
}

func (s *scriptedAgent) serve(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var request struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &request); err != nil {
			s.t.Errorf("undecodable request %q: %v", scanner.Text(), err)
			return
		}

		switch request.Method {
		case "initialize":
			if s.muteInitialize {
				continue
			}
			fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"result":{"agentCapabilities":{"loadSession":true,"promptCapabilities":{"image":true}}}}`+"\n", request.ID)

		case "session/new":
			fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"result":{"sessionId":"sess-%d"}}`+"\n",
				request.ID, s.sessionCount.Add(1))

		case "session/load":
			if s.rejectLoad {
				fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32603,"message":"session not found"}}`+"\n", request.ID)
			} else {
				fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"result":{}}`+"\n", request.ID)
			}

		case "session/prompt":
			var params struct {
				Prompt []struct {
					Text string `json:"text"`
				} `json:"prompt"`
			}
			_ = json.Unmarshal(request.Params, &params)
			text := ""
			if len(params.Prompt) > 0 {
				text = params.Prompt[0].Text
			}
			s.promptCount.Add(1)
			s.prompts <- text
			if hold := s.hold(); hold != nil {
				<-hold
			}
			for _, chunk := range s.chunks {
				fmt.Fprintf(out, `{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":%q}}}}`+"\n", chunk)
			}
			fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"result":{"stopReason":"end_turn"}}`+"\n", request.ID)

		case "session/compact":
			fmt.Fprintf(out, `{"jsonrpc":"2.0","id":%d,"result":{}}`+"\n", request.ID)

		default:
			s.t.Errorf("unexpected method %q", request.Method)
		}
	}
}

// chatTarget records deliveries. Chunks arrive from the prompt
// goroutine while the submitting goroutine waits, so access is locked.
type chatTarget struct {
	mu        sync.Mutex
	updates   []string
	finalized []string
}

func (c *chatTarget) Update(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, text)
	return nil
}

func (c *chatTarget) Finalize(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = append(c.finalized, text)
	return nil
}

func (c *chatTarget) finalTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.finalized...)
}

func newTestManager(t *testing.T, scripted *scriptedAgent, statePath string) *Manager {
	t.Helper()
	agents := agent.NewManager(agent.ManagerConfig{
		Logger:      discardLogger(),
		SpawnClient: scripted.spawn,
	})
	t.Cleanup(agents.Close)

	return NewManager(ManagerConfig{
		Agents:             agents,
		Store:              NewStore(statePath, discardLogger()),
		Gate:               NewGate(testWindow, nil),
		DefaultAgentName:   "Goose",
		MinFlushInterval:   time.Millisecond,
		FlushSizeThreshold: 1500,
		Logger:             discardLogger(),
	})
}

func TestSubmitTurnDeliversStreamedResponse(t *testing.T) {
	scripted := newScriptedAgent(t)
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	manager := newTestManager(t, scripted, statePath)

	target := &chatTarget{}
	err := manager.SubmitTurn(context.Background(), "room-1", "@user:example.org", "hi", nil, target)
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	finals := target.finalTexts()
	if len(finals) != 1 || finals[0] != "Hello world" {
		t.Errorf("finalized = %v, want exactly [Hello world]", finals)
	}

	status, ok := manager.Status("room-1")
	if !ok {
		t.Fatal("Status: no record after a completed turn")
	}
	if !status.HasSession || status.Pending {
		t.Errorf("status = %+v, want session and not pending", status)
	}

	// The new session id was persisted inline with the completion.
	reloaded := NewStore(statePath, discardLogger()).Load()
	if reloaded["room-1"].SessionID != "sess-1" {
		t.Errorf("persisted record = %+v, want sess-1", reloaded["room-1"])
	}
}

func TestConcurrentTurnsOneProceeds(t *testing.T) {
	scripted := newScriptedAgent(t)
	hold := make(chan struct{})
	scripted.setHold(hold)
	manager := newTestManager(t, scripted, filepath.Join(t.TempDir(), "sessions.json"))

	firstTarget := &chatTarget{}
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "first", nil, firstTarget)
	}()
	testutil.RequireReceive(t, scripted.prompts, 5*time.Second, "waiting for first prompt")

	const contenders = 5
	results := make(chan error, contenders)
	targets := make([]*chatTarget, contenders)
	for i := range contenders {
		targets[i] = &chatTarget{}
		go func(target *chatTarget) {
			results <- manager.SubmitTurn(context.Background(), "room-1", "@b:example.org", "me too", nil, target)
		}(targets[i])
	}
	for range contenders {
		err := testutil.RequireReceive(t, results, 5*time.Second, "waiting for contender")
		if !errors.Is(err, ErrSessionBusy) {
			t.Errorf("contender err = %v, want ErrSessionBusy", err)
		}
	}

	close(hold)
	if err := testutil.RequireReceive(t, firstDone, 5*time.Second, "waiting for first turn"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	if got := scripted.promptCount.Load(); got != 1 {
		t.Errorf("prompts reaching the agent = %d, want 1", got)
	}
	// Every rejected contender still got exactly one final message.
	for i, target := range targets {
		if finals := target.finalTexts(); len(finals) != 1 {
			t.Errorf("contender %d finalized = %v, want one message", i, finals)
		}
	}
}

func TestTurnsForDifferentKeysRunConcurrently(t *testing.T) {
	scripted := newScriptedAgent(t)
	hold := make(chan struct{})
	scripted.setHold(hold)
	manager := newTestManager(t, scripted, filepath.Join(t.TempDir(), "sessions.json"))

	done := make(chan error, 2)
	go func() {
		done <- manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "one", nil, &chatTarget{})
	}()
	go func() {
		done <- manager.SubmitTurn(context.Background(), "room-2", "@a:example.org", "two", nil, &chatTarget{})
	}()

	// Both prompts arrive while both turns are still in flight.
	testutil.RequireReceive(t, scripted.prompts, 5*time.Second, "waiting for prompt one")
	testutil.RequireReceive(t, scripted.prompts, 5*time.Second, "waiting for prompt two")

	close(hold)
	for range 2 {
		if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for turn"); err != nil {
			t.Errorf("turn failed: %v", err)
		}
	}
}

func TestClearForgetsSession(t *testing.T) {
	scripted := newScriptedAgent(t)
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	manager := newTestManager(t, scripted, statePath)

	ctx := context.Background()
	if err := manager.SubmitTurn(ctx, "room-1", "@a:example.org", "hi", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if err := manager.Clear("room-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := manager.Status("room-1"); ok {
		t.Error("Status found a record after Clear")
	}
	if reloaded := NewStore(statePath, discardLogger()).Load(); len(reloaded) != 0 {
		t.Errorf("store after Clear = %v, want empty", reloaded)
	}

	// The next turn builds a brand-new agent session.
	if err := manager.SubmitTurn(ctx, "room-1", "@a:example.org", "again", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn after Clear: %v", err)
	}
	status, _ := manager.Status("room-1")
	if !status.HasSession {
		t.Error("no session after post-Clear turn")
	}
	reloaded := NewStore(statePath, discardLogger()).Load()
	if reloaded["room-1"].SessionID != "sess-2" {
		t.Errorf("persisted session = %q, want sess-2", reloaded["room-1"].SessionID)
	}
}

func TestRestartKeepsRecordDropsSession(t *testing.T) {
	scripted := newScriptedAgent(t)
	manager := newTestManager(t, scripted, filepath.Join(t.TempDir(), "sessions.json"))

	ctx := context.Background()
	if err := manager.SetName("room-1", "Nibbler"); err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if err := manager.SubmitTurn(ctx, "room-1", "@a:example.org", "hi", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	if err := manager.Restart("room-1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	status, ok := manager.Status("room-1")
	if !ok {
		t.Fatal("Restart removed the record entirely")
	}
	if status.HasSession {
		t.Error("session survived Restart")
	}
	if status.AgentName != "Goose" {
		t.Errorf("AgentName after Restart = %q, want default Goose", status.AgentName)
	}
}

func TestStaleSessionRecoveredSilently(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	seed := NewStore(statePath, discardLogger())
	if err := seed.Save(map[string]Record{
		"room-1": {SessionID: "sess-stale", AgentName: "Goose", CreatedAt: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	scripted := newScriptedAgent(t)
	scripted.rejectLoad = true
	manager := newTestManager(t, scripted, statePath)

	target := &chatTarget{}
	err := manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, target)
	if err != nil {
		t.Fatalf("SubmitTurn with stale session: %v", err)
	}

	// The user sees a normal answer, never a resume error.
	finals := target.finalTexts()
	if len(finals) != 1 || finals[0] != "Hello world" {
		t.Errorf("finalized = %v, want [Hello world]", finals)
	}

	reloaded := NewStore(statePath, discardLogger()).Load()
	if got := reloaded["room-1"].SessionID; got == "sess-stale" || got == "" {
		t.Errorf("persisted session = %q, want a fresh id", got)
	}
}

func TestFailedSpawnYieldsExactlyOneFinalMessage(t *testing.T) {
	agents := agent.NewManager(agent.ManagerConfig{
		Logger: discardLogger(),
		SpawnClient: func(ctx context.Context) (*acp.Client, error) {
			return nil, errors.New("binary missing")
		},
	})
	t.Cleanup(agents.Close)
	manager := NewManager(ManagerConfig{
		Agents:           agents,
		Store:            NewStore(filepath.Join(t.TempDir(), "sessions.json"), discardLogger()),
		Gate:             NewGate(testWindow, nil),
		DefaultAgentName: "Goose",
		MinFlushInterval: time.Millisecond,
		Logger:           discardLogger(),
	})

	target := &chatTarget{}
	err := manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, target)
	if !errors.Is(err, agent.ErrAgentUnavailable) {
		t.Fatalf("err = %v, want ErrAgentUnavailable", err)
	}

	finals := target.finalTexts()
	if len(finals) != 1 {
		t.Fatalf("finalized = %v, want exactly one message", finals)
	}
	if finals[0] == "" {
		t.Error("final error message is empty")
	}

	// Pending was cleared: the next attempt reaches the spawn path
	// again instead of failing busy.
	err = manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "retry", nil, &chatTarget{})
	if !errors.Is(err, agent.ErrAgentUnavailable) {
		t.Fatalf("retry err = %v, want ErrAgentUnavailable", err)
	}
}

func TestFailedTurnDoesNotOpenListeningWindow(t *testing.T) {
	agents := agent.NewManager(agent.ManagerConfig{
		Logger: discardLogger(),
		SpawnClient: func(ctx context.Context) (*acp.Client, error) {
			return nil, errors.New("binary missing")
		},
	})
	t.Cleanup(agents.Close)
	gate := NewGate(testWindow, nil)
	manager := NewManager(ManagerConfig{
		Agents:           agents,
		Store:            NewStore(filepath.Join(t.TempDir(), "sessions.json"), discardLogger()),
		Gate:             gate,
		DefaultAgentName: "Goose",
		MinFlushInterval: time.Millisecond,
		Logger:           discardLogger(),
	})

	_ = manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, &chatTarget{})
	if gate.Listening("room-1") {
		t.Error("failed turn opened the listening window")
	}
}

func TestSuccessfulTurnOpensListeningWindow(t *testing.T) {
	scripted := newScriptedAgent(t)
	agents := agent.NewManager(agent.ManagerConfig{
		Logger:      discardLogger(),
		SpawnClient: scripted.spawn,
	})
	t.Cleanup(agents.Close)
	gate := NewGate(testWindow, nil)
	manager := NewManager(ManagerConfig{
		Agents:           agents,
		Store:            NewStore(filepath.Join(t.TempDir(), "sessions.json"), discardLogger()),
		Gate:             gate,
		DefaultAgentName: "Goose",
		MinFlushInterval: time.Millisecond,
		Logger:           discardLogger(),
	})

	if err := manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if !gate.Listening("room-1") {
		t.Error("completed turn did not open the listening window")
	}
}

func TestManagerRestoresRecordsAndSeedsGate(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	seed := NewStore(statePath, discardLogger())
	if err := seed.Save(map[string]Record{
		"room-1": {SessionID: "sess-9", AgentName: "Nibbler", LastActiveAt: time.Now()},
	}); err != nil {
		t.Fatal(err)
	}

	scripted := newScriptedAgent(t)
	manager := newTestManager(t, scripted, statePath)

	status, ok := manager.Status("room-1")
	if !ok {
		t.Fatal("restored record not visible in Status")
	}
	if status.AgentName != "Nibbler" || !status.HasSession {
		t.Errorf("restored status = %+v", status)
	}
	if !manager.gate.Listening("room-1") {
		t.Error("gate not seeded from restored LastActiveAt")
	}
}

func TestSetNamePersists(t *testing.T) {
	scripted := newScriptedAgent(t)
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	manager := newTestManager(t, scripted, statePath)

	if err := manager.SetName("room-1", "Nibbler"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	reloaded := NewStore(statePath, discardLogger()).Load()
	if reloaded["room-1"].AgentName != "Nibbler" {
		t.Errorf("persisted AgentName = %q, want Nibbler", reloaded["room-1"].AgentName)
	}
}

func TestCompact(t *testing.T) {
	scripted := newScriptedAgent(t)
	manager := newTestManager(t, scripted, filepath.Join(t.TempDir(), "sessions.json"))
	ctx := context.Background()

	if err := manager.Compact(ctx, "room-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Compact without session = %v, want ErrNoSession", err)
	}

	if err := manager.SubmitTurn(ctx, "room-1", "@a:example.org", "hi", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if err := manager.Compact(ctx, "room-1"); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// The session id survives compaction.
	status, _ := manager.Status("room-1")
	if !status.HasSession {
		t.Error("session lost after Compact")
	}
}

func TestCompactWhileTurnInFlight(t *testing.T) {
	scripted := newScriptedAgent(t)
	manager := newTestManager(t, scripted, filepath.Join(t.TempDir(), "sessions.json"))
	ctx := context.Background()

	// Establish a session first.
	if err := manager.SubmitTurn(ctx, "room-1", "@a:example.org", "hi", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	<-scripted.prompts

	hold := make(chan struct{})
	scripted.setHold(hold)
	turnDone := make(chan error, 1)
	go func() {
		turnDone <- manager.SubmitTurn(ctx, "room-1", "@a:example.org", "slow", nil, &chatTarget{})
	}()
	testutil.RequireReceive(t, scripted.prompts, 5*time.Second, "waiting for in-flight prompt")

	if err := manager.Compact(ctx, "room-1"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Compact during turn = %v, want ErrSessionBusy", err)
	}

	close(hold)
	if err := testutil.RequireReceive(t, turnDone, 5*time.Second, "waiting for turn"); err != nil {
		t.Fatalf("turn: %v", err)
	}
}

func TestStalledHandshakeFailsTurn(t *testing.T) {
	scripted := newScriptedAgent(t)
	scripted.muteInitialize = true
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	agents := agent.NewManager(agent.ManagerConfig{
		TurnTimeout: time.Minute,
		Clock:       fakeClock,
		Logger:      discardLogger(),
		SpawnClient: scripted.spawn,
	})
	t.Cleanup(agents.Close)
	gate := NewGate(testWindow, nil)
	manager := NewManager(ManagerConfig{
		Agents:           agents,
		Store:            NewStore(filepath.Join(t.TempDir(), "sessions.json"), discardLogger()),
		Gate:             gate,
		DefaultAgentName: "Goose",
		MinFlushInterval: time.Millisecond,
		Logger:           discardLogger(),
	})

	target := &chatTarget{}
	turnDone := make(chan error, 1)
	go func() {
		turnDone <- manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, target)
	}()

	fakeClock.WaitForWaiters(1)
	fakeClock.Advance(time.Minute)

	err := testutil.RequireReceive(t, turnDone, 5*time.Second, "waiting for stalled turn")
	if !errors.Is(err, agent.ErrAgentTimeout) {
		t.Fatalf("err = %v, want ErrAgentTimeout", err)
	}
	if finals := target.finalTexts(); len(finals) != 1 {
		t.Fatalf("finalized = %v, want exactly one message", finals)
	}
	if status, _ := manager.Status("room-1"); status.Pending {
		t.Error("pending still set after the stalled turn")
	}
	if gate.Listening("room-1") {
		t.Error("failed turn opened the listening window")
	}
}

func TestClearDuringConnectNotUndone(t *testing.T) {
	scripted := newScriptedAgent(t)
	spawnEntered := make(chan struct{}, 4)
	release := make(chan struct{})
	agents := agent.NewManager(agent.ManagerConfig{
		Logger: discardLogger(),
		SpawnClient: func(ctx context.Context) (*acp.Client, error) {
			spawnEntered <- struct{}{}
			<-release
			return scripted.spawn(ctx)
		},
	})
	t.Cleanup(agents.Close)
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	manager := NewManager(ManagerConfig{
		Agents:           agents,
		Store:            NewStore(statePath, discardLogger()),
		Gate:             NewGate(testWindow, nil),
		DefaultAgentName: "Goose",
		MinFlushInterval: time.Millisecond,
		Logger:           discardLogger(),
	})

	target := &chatTarget{}
	turnDone := make(chan error, 1)
	go func() {
		turnDone <- manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, target)
	}()
	testutil.RequireReceive(t, spawnEntered, 5*time.Second, "waiting for spawn")

	if err := manager.Clear("room-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(release)

	if err := testutil.RequireReceive(t, turnDone, 5*time.Second, "waiting for interrupted turn"); err == nil {
		t.Fatal("turn crossing a clear completed as if nothing happened")
	}
	if finals := target.finalTexts(); len(finals) != 1 {
		t.Errorf("finalized = %v, want exactly one message", finals)
	}

	// The next turn builds a brand-new agent session rather than
	// adopting the one resolved before the clear.
	if err := manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "again", nil, &chatTarget{}); err != nil {
		t.Fatalf("SubmitTurn after Clear: %v", err)
	}
	if got := NewStore(statePath, discardLogger()).Load()["room-1"].SessionID; got != "sess-2" {
		t.Errorf("persisted session = %q, want sess-2", got)
	}
}

// clearingTarget resets the conversation from inside the final
// delivery, landing the reset between the agent's response and the
// turn's completion bookkeeping.
type clearingTarget struct {
	chatTarget
	sessions *Manager
	key      string
}

func (c *clearingTarget) Finalize(ctx context.Context, text string) error {
	if err := c.sessions.Clear(c.key); err != nil {
		return err
	}
	return c.chatTarget.Finalize(ctx, text)
}

func TestClearDuringTurnSticksAfterCompletion(t *testing.T) {
	scripted := newScriptedAgent(t)
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	manager := newTestManager(t, scripted, statePath)

	target := &clearingTarget{key: "room-1"}
	target.sessions = manager
	err := manager.SubmitTurn(context.Background(), "room-1", "@a:example.org", "hi", nil, target)
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}

	// The response was delivered, but completing the turn must not
	// undo the clear: no record, no store entry, no open window.
	if finals := target.finalTexts(); len(finals) != 1 || finals[0] != "Hello world" {
		t.Errorf("finalized = %v, want [Hello world]", finals)
	}
	if _, ok := manager.Status("room-1"); ok {
		t.Error("record resurrected after Clear")
	}
	if manager.gate.Listening("room-1") {
		t.Error("listening window reopened after Clear")
	}
	if reloaded := NewStore(statePath, discardLogger()).Load(); len(reloaded) != 0 {
		t.Errorf("store = %v, want empty", reloaded)
	}
}
