// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package acp implements the client side of the Agent Client Protocol:
// newline-delimited JSON-RPC 2.0 over the standard streams of a
// `goose acp` subprocess.
//
// The transport is a single ordered stream with no multiplexing, so a
// Client allows exactly one outstanding request at a time. While a
// request is in flight, notifications (session/update and friends) are
// delivered to the caller's callback; the matching response terminates
// the call.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrStreamClosed is returned when the agent's output stream ends
// while a call is waiting for its response (broken pipe or process
// exit).
var ErrStreamClosed = errors.New("acp: agent stream closed")

// ErrMalformedFrame is returned when the agent emits a line that is
// not valid JSON. The connection is not recoverable afterwards: the
// reply for the in-flight call may have been lost.
var ErrMalformedFrame = errors.New("acp: malformed frame")

// ErrClientBroken is returned by calls on a client whose stream has
// been abandoned mid-exchange (a previous call was cancelled or timed
// out). The owner must discard the client and spawn a fresh one.
var ErrClientBroken = errors.New("acp: client broken")

// SpawnConfig holds the configuration for spawning a goose subprocess.
type SpawnConfig struct {
	// Binary is the goose CLI path. Empty means "goose" (PATH lookup).
	Binary string

	// WorkingDirectory is the directory the subprocess starts in.
	WorkingDirectory string

	// Model, when non-empty, is exported to the subprocess as
	// GOOSE_MODEL.
	Model string

	// Logger receives structured log output. If nil, slog.Default().
	Logger *slog.Logger
}

// Client speaks ACP over a reader/writer pair. Construct with Spawn
// for a real subprocess, or New over in-memory pipes for tests.
type Client struct {
	stdin  io.Writer
	lines  chan []byte
	done   chan struct{}
	logger *slog.Logger

	// process is non-nil for spawned clients; Close terminates it.
	process *exec.Cmd

	mu        sync.Mutex
	requestID int64
	broken    bool
	closed    bool

	capabilities Capabilities
	initialized  bool
}

// New creates a Client over explicit streams and starts the read loop.
// The caller retains ownership of the streams' lifecycles.
func New(stdin io.Writer, stdout io.Reader, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		stdin:  stdin,
		lines:  make(chan []byte, 16),
		done:   make(chan struct{}),
		logger: logger,
	}
	go client.readLoop(stdout)
	return client
}

// Spawn starts a goose subprocess in ACP mode and returns a Client
// bound to its standard streams. The subprocess's stderr is drained
// into the structured log.
func Spawn(ctx context.Context, config SpawnConfig) (*Client, error) {
	binary := config.Binary
	if binary == "" {
		binary = "goose"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	command := exec.CommandContext(ctx, binary, "acp")
	command.Dir = config.WorkingDirectory
	command.Env = os.Environ()
	if config.Model != "" {
		command.Env = append(command.Env, "GOOSE_MODEL="+config.Model)
	}

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("acp: creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("acp: creating stdout pipe: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("acp: creating stderr pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("acp: starting %s: %w", binary, err)
	}
	logger.Info("goose acp subprocess started", "binary", binary, "pid", command.Process.Pid)

	go drainStderr(stderr, logger)

	client := New(stdin, stdout, logger)
	client.process = command
	return client, nil
}

// drainStderr forwards subprocess stderr lines into the log.
func drainStderr(stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			logger.Info("goose stderr", "line", line)
		}
	}
}

// readLoop pumps stdout lines into the lines channel and closes it on
// EOF, read error, or client teardown. Once done is closed, buffered
// output nobody will read is discarded instead of blocking the send.
// Agent responses can be long (tool results with large file contents),
// so the scanner buffer is generous.
func (c *Client) readLoop(stdout io.Reader) {
	defer close(c.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		select {
		case c.lines <- append([]byte(nil), line...):
		case <-c.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("agent stdout read ended", "error", err)
	}
}

// Capabilities returns the capability set negotiated by Initialize.
// Zero value before Initialize succeeds.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// Initialize performs the protocol handshake and records the agent's
// advertised capabilities.
func (c *Client) Initialize(ctx context.Context) (Capabilities, error) {
	params := map[string]any{
		"protocolVersion":    "v1",
		"clientCapabilities": map[string]any{},
		"clientInfo": map[string]any{
			"name":    "goosebot",
			"version": "1.0.0",
		},
	}
	result, err := c.call(ctx, "initialize", params, nil)
	if err != nil {
		return Capabilities{}, fmt.Errorf("acp: initialize: %w", err)
	}

	var parsed struct {
		AgentCapabilities Capabilities `json:"agentCapabilities"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return Capabilities{}, fmt.Errorf("acp: parsing initialize result: %w", err)
	}

	c.mu.Lock()
	c.capabilities = parsed.AgentCapabilities
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("acp initialized",
		"load_session", parsed.AgentCapabilities.LoadSession,
		"image_prompts", parsed.AgentCapabilities.Prompt.Image,
	)
	return parsed.AgentCapabilities, nil
}

// NewSession creates a fresh agent-side session and returns its opaque id.
func (c *Client) NewSession(ctx context.Context, cwd string) (string, error) {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	result, err := c.call(ctx, "session/new", map[string]any{
		"mcpServers": []any{},
		"cwd":        cwd,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("acp: session/new: %w", err)
	}

	var parsed struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("acp: parsing session/new result: %w", err)
	}
	if parsed.SessionID == "" {
		return "", fmt.Errorf("acp: session/new returned no session id")
	}
	return parsed.SessionID, nil
}

// LoadSession resumes a previously created session. The agent replays
// history notifications before the response; they are discarded here —
// the chat surface already shows the conversation.
func (c *Client) LoadSession(ctx context.Context, sessionID, cwd string) error {
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	_, err := c.call(ctx, "session/load", map[string]any{
		"sessionId":  sessionID,
		"mcpServers": []any{},
		"cwd":        cwd,
	}, nil)
	if err != nil {
		return fmt.Errorf("acp: session/load %s: %w", sessionID, err)
	}
	return nil
}

// Prompt submits one user turn. onChunk is invoked for each streamed
// agent message chunk, in arrival order, from this goroutine.
func (c *Client) Prompt(ctx context.Context, sessionID string, prompt []ContentBlock, onChunk func(text string)) (PromptResult, error) {
	onNotification := func(method string, params json.RawMessage) {
		if method != "session/update" && method != "session/notification" {
			return
		}
		update, err := decodeUpdate(params)
		if err != nil {
			c.logger.Debug("undecodable session update", "error", err)
			return
		}
		if text := chunkText(update); text != "" {
			if onChunk != nil {
				onChunk(text)
			}
			return
		}
		switch update.SessionUpdate {
		case "tool_call", "toolCall", "tool_call_update", "toolCallUpdate":
			c.logger.Debug("tool activity", "update", update.SessionUpdate)
		}
	}

	result, err := c.call(ctx, "session/prompt", map[string]any{
		"sessionId": sessionID,
		"prompt":    prompt,
	}, onNotification)
	if err != nil {
		return PromptResult{}, fmt.Errorf("acp: session/prompt: %w", err)
	}

	// The result may be an object with a stop reason or a bare string;
	// either way the content already streamed via notifications.
	var parsed PromptResult
	if json.Unmarshal(result, &parsed) != nil {
		parsed = PromptResult{}
	}
	return parsed, nil
}

// Cancel aborts an in-progress prompt.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, "session/cancel", map[string]any{"sessionId": sessionID}, nil)
	if err != nil {
		return fmt.Errorf("acp: session/cancel: %w", err)
	}
	return nil
}

// Compact asks the agent to summarize the session's context in place.
// The session id remains valid afterwards.
func (c *Client) Compact(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, "session/compact", map[string]any{"sessionId": sessionID}, nil)
	if err != nil {
		return fmt.Errorf("acp: session/compact: %w", err)
	}
	return nil
}

// call sends one request and reads frames until its response arrives.
// Notifications seen in between are handed to onNotification.
// Responses for other ids are skipped. A context cancellation
// abandons the exchange and marks the client broken: the stream is
// desynchronized and cannot be safely reused.
func (c *Client) call(ctx context.Context, method string, params any, onNotification func(method string, params json.RawMessage)) (json.RawMessage, error) {
	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return nil, ErrClientBroken
	}
	c.requestID++
	id := c.requestID
	c.mu.Unlock()

	encoded, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("acp: encoding %s request: %w", method, err)
	}

	c.logger.Debug("acp request", "method", method, "id", id)
	if _, err := c.stdin.Write(append(encoded, '\n')); err != nil {
		c.markBroken()
		return nil, fmt.Errorf("acp: writing %s request: %w", method, err)
	}

	for {
		select {
		case <-ctx.Done():
			c.markBroken()
			return nil, ctx.Err()
		case line, ok := <-c.lines:
			if !ok {
				c.markBroken()
				return nil, ErrStreamClosed
			}

			var frame message
			if err := json.Unmarshal(line, &frame); err != nil {
				c.markBroken()
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}

			// Notification: method present, no id.
			if frame.ID == nil && frame.Method != "" {
				if onNotification != nil {
					onNotification(frame.Method, frame.Params)
				}
				continue
			}

			if frame.ID == nil || *frame.ID != id {
				c.logger.Debug("skipping response for stale request", "got", frame.ID, "want", id)
				continue
			}

			if frame.Error != nil {
				return nil, frame.Error
			}
			return frame.Result, nil
		}
	}
}

// markBroken flags the client unusable and releases the read loop:
// closing done lets a blocked send abandon its line, and the lines
// channel closes behind it, unblocking any in-flight call.
func (c *Client) markBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return
	}
	c.broken = true
	close(c.done)
}

// Close terminates the subprocess (if any): SIGTERM, then SIGKILL
// after a grace period. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if !c.broken {
		c.broken = true
		close(c.done)
	}
	process := c.process
	c.mu.Unlock()

	if process == nil || process.Process == nil {
		return nil
	}

	_ = process.Process.Signal(syscall.SIGTERM)

	exited := make(chan error, 1)
	go func() { exited <- process.Wait() }()

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		_ = process.Process.Kill()
		<-exited
	}
	c.logger.Info("goose acp subprocess stopped")
	return nil
}
