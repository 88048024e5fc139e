// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// request is an outgoing JSON-RPC 2.0 request. Every request carries
// an id; the agent never receives notifications from us.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is an incoming frame: either a response (id set) or a
// notification (method set, no id).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the agent.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("acp: agent error %d: %s", e.Code, e.Message)
}

// Capabilities is the agent capability set negotiated during
// initialize. PromptCapabilities gates what content block types may be
// included in session/prompt calls.
type Capabilities struct {
	// LoadSession indicates the agent supports resuming a previous
	// session via session/load.
	LoadSession bool `json:"loadSession"`

	// Prompt lists the content types the agent accepts in prompts.
	Prompt PromptCapabilities `json:"promptCapabilities"`
}

// PromptCapabilities lists content block types the agent accepts.
type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// ContentBlock is one element of a prompt payload or a streamed
// update. Text blocks carry Text; image blocks carry base64 Data and a
// MimeType.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds an image content block with base64-encoded data.
func ImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}
}

// PromptResult is the final response of a session/prompt call. The
// streamed content arrives separately as session/update notifications.
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// sessionUpdate is the payload of a session/update notification. Some
// agent versions nest the update object under an "update" key, others
// inline it; updateEnvelope handles both shapes.
type sessionUpdate struct {
	SessionUpdate string        `json:"sessionUpdate"`
	Content       *ContentBlock `json:"content,omitempty"`
}

type updateEnvelope struct {
	Update *sessionUpdate `json:"update,omitempty"`
	sessionUpdate
}

// decodeUpdate extracts the update object from session/update
// notification params, tolerating both wire shapes.
func decodeUpdate(params json.RawMessage) (*sessionUpdate, error) {
	var envelope updateEnvelope
	if err := json.Unmarshal(params, &envelope); err != nil {
		return nil, err
	}
	if envelope.Update != nil {
		return envelope.Update, nil
	}
	return &envelope.sessionUpdate, nil
}

// chunkText returns the streamed text of an agent message chunk
// update, or "" for all other update kinds. Both snake_case and
// camelCase update names are seen in the wild.
func chunkText(update *sessionUpdate) string {
	switch update.SessionUpdate {
	case "agent_message_chunk", "agentMessageChunk":
		if update.Content != nil && update.Content.Type == "text" {
			return update.Content.Text
		}
	}
	return ""
}
