// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"

	"github.com/ananasregina/GooseBot/stream"
)

// outputTarget delivers one turn's streamed output into a room. The
// first Update sends the reply message and captures its event ID; the
// output identity is fixed for the rest of the stream, so later
// Updates and the Finalize are edits of that one message.
//
// The aggregator serializes calls, so no locking is needed here.
type outputTarget struct {
	client  *Client
	roomID  string
	eventID string
}

// NewTarget creates a stream.Target that writes into the given room.
func NewTarget(client *Client, roomID string) stream.Target {
	return &outputTarget{client: client, roomID: roomID}
}

func (t *outputTarget) Update(ctx context.Context, text string) error {
	return t.deliver(ctx, text)
}

func (t *outputTarget) Finalize(ctx context.Context, text string) error {
	return t.deliver(ctx, text)
}

func (t *outputTarget) deliver(ctx context.Context, text string) error {
	if t.eventID == "" {
		eventID, err := t.client.SendMessage(ctx, t.roomID, text)
		if err != nil {
			return t.translate(err)
		}
		t.eventID = eventID
		return nil
	}
	if err := t.client.EditMessage(ctx, t.roomID, t.eventID, text); err != nil {
		return t.translate(err)
	}
	return nil
}

// translate maps a vanished room or message onto ErrTargetGone so the
// aggregator stops delivering; everything else passes through.
func (t *outputTarget) translate(err error) error {
	if IsMatrixError(err, ErrCodeNotFound) || IsMatrixError(err, ErrCodeForbidden) {
		return fmt.Errorf("%w: %v", stream.ErrTargetGone, err)
	}
	return err
}
