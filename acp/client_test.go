// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ananasregina/GooseBot/lib/testutil"
)

// testAgent is the far side of the client's pipes: it reads requests
// the way a goose subprocess would and writes back whatever frames the
// test scripts.
type testAgent struct {
	t       *testing.T
	scanner *bufio.Scanner
	out     *io.PipeWriter
}

func newTestClient(t *testing.T) (*Client, *testAgent) {
	t.Helper()
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()

	client := New(stdinWriter, stdoutReader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	agent := &testAgent{
		t:       t,
		scanner: bufio.NewScanner(stdinReader),
		out:     stdoutWriter,
	}
	t.Cleanup(func() {
		stdinWriter.Close()
		stdoutWriter.Close()
	})
	return client, agent
}

type incomingRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// read decodes the next request. Runs on the scripted-agent goroutine,
// so failures are reported with Errorf and the stream is closed to
// unblock the client side.
func (a *testAgent) read() incomingRequest {
	if !a.scanner.Scan() {
		a.t.Errorf("client closed stdin before sending a request: %v", a.scanner.Err())
		a.out.Close()
		return incomingRequest{}
	}
	var request incomingRequest
	if err := json.Unmarshal(a.scanner.Bytes(), &request); err != nil {
		a.t.Errorf("undecodable request %q: %v", a.scanner.Text(), err)
		a.out.Close()
	}
	return request
}

func (a *testAgent) write(frame string) {
	a.t.Helper()
	if _, err := a.out.Write([]byte(frame + "\n")); err != nil {
		a.t.Errorf("writing frame to client: %v", err)
	}
}

func (a *testAgent) reply(id int64, result string) {
	a.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result))
}

func (a *testAgent) replyError(id int64, code int, message string) {
	a.write(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":%q}}`, id, code, message))
}

func (a *testAgent) notifyChunk(text string) {
	a.write(fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":%q}}}}`, text))
}

func TestInitializeNegotiatesCapabilities(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		request := agent.read()
		if request.Method != "initialize" {
			agent.t.Errorf("first method = %q, want initialize", request.Method)
		}
		if request.Params["protocolVersion"] != "v1" {
			agent.t.Errorf("protocolVersion = %v, want v1", request.Params["protocolVersion"])
		}
		agent.reply(request.ID, `{"agentCapabilities":{"loadSession":true,"promptCapabilities":{"image":true}}}`)
	}()

	capabilities, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !capabilities.LoadSession {
		t.Error("LoadSession = false, want true")
	}
	if !capabilities.Prompt.Image {
		t.Error("Prompt.Image = false, want true")
	}
}

func TestNewSessionReturnsID(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		request := agent.read()
		if request.Method != "session/new" {
			agent.t.Errorf("method = %q, want session/new", request.Method)
		}
		if request.Params["cwd"] == "" {
			agent.t.Error("cwd missing from session/new params")
		}
		agent.reply(request.ID, `{"sessionId":"sess-42"}`)
	}()

	sessionID, err := client.NewSession(context.Background(), "/tmp")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sessionID != "sess-42" {
		t.Errorf("sessionID = %q, want sess-42", sessionID)
	}
}

func TestPromptStreamsChunksInOrder(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		request := agent.read()
		agent.notifyChunk("Hel")
		// Tool activity and inline-shape chunks interleave with text.
		agent.write(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{"sessionUpdate":"tool_call"}}}`)
		agent.write(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionUpdate":"agentMessageChunk","content":{"type":"text","text":"lo"}}}`)
		agent.reply(request.ID, `{"stopReason":"end_turn"}`)
	}()

	var chunks []string
	result, err := client.Prompt(context.Background(), "sess-1", []ContentBlock{TextBlock("hi")}, func(text string) {
		chunks = append(chunks, text)
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if result.StopReason != "end_turn" {
		t.Errorf("StopReason = %q, want end_turn", result.StopReason)
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Errorf("chunks = %v, want [Hel lo]", chunks)
	}
}

func TestRPCErrorExtractableWithErrorsAs(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		request := agent.read()
		agent.replyError(request.ID, -32603, "session not found")
	}()

	err := client.LoadSession(context.Background(), "sess-stale", "/tmp")
	var rpcError *RPCError
	if !errors.As(err, &rpcError) {
		t.Fatalf("error %v is not an *RPCError", err)
	}
	if rpcError.Message != "session not found" {
		t.Errorf("Message = %q, want %q", rpcError.Message, "session not found")
	}
}

func TestMalformedFrameBreaksClient(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		agent.read()
		agent.write(`this is not json`)
	}()

	_, err := client.NewSession(context.Background(), "/tmp")
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}

	// The stream is desynchronized; further calls must refuse.
	_, err = client.NewSession(context.Background(), "/tmp")
	if !errors.Is(err, ErrClientBroken) {
		t.Fatalf("err after breakage = %v, want ErrClientBroken", err)
	}
}

func TestClosedStreamMidCall(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		agent.read()
		agent.out.Close()
	}()

	_, err := client.NewSession(context.Background(), "/tmp")
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed", err)
	}
}

func TestStaleResponseSkipped(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		request := agent.read()
		agent.reply(request.ID+100, `{"sessionId":"wrong"}`)
		agent.reply(request.ID, `{"sessionId":"right"}`)
	}()

	done := make(chan string, 1)
	go func() {
		sessionID, err := client.NewSession(context.Background(), "/tmp")
		if err != nil {
			t.Errorf("NewSession: %v", err)
		}
		done <- sessionID
	}()

	sessionID := testutil.RequireReceive(t, done, 5*time.Second, "waiting for session id")
	if sessionID != "right" {
		t.Errorf("sessionID = %q, want right", sessionID)
	}
}

func TestCloseReleasesReadLoop(t *testing.T) {
	stdoutReader, stdoutWriter := io.Pipe()
	client := New(io.Discard, stdoutReader, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Far more lines than the lines channel buffers, delivered in one
	// write so the whole backlog sits in the scanner before teardown.
	var backlog []byte
	for range 64 {
		backlog = append(backlog, `{"jsonrpc":"2.0","method":"session/update","params":{}}`+"\n"...)
	}
	written := make(chan struct{})
	go func() {
		_, _ = stdoutWriter.Write(backlog)
		close(written)
	}()
	testutil.RequireClosed(t, written, 5*time.Second, "waiting for backlog write")

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The read loop must drop the undelivered backlog and close its
	// channel rather than blocking on a send nobody will receive.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-client.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("read loop still live after Close")
		}
	}
}
