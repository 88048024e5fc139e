// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ananasregina/GooseBot/agent"
	"github.com/ananasregina/GooseBot/lib/clock"
	"github.com/ananasregina/GooseBot/session"
)

const (
	syncTimeout    = 30 * time.Second
	typingDuration = 60 * time.Second
	backoffInitial = time.Second
	backoffMax     = time.Minute
)

// BotConfig holds configuration for creating a Bot.
type BotConfig struct {
	// Client is the Matrix connection.
	Client *Client

	// Sessions is the session core the bot submits turns to.
	Sessions *session.Manager

	// Gate decides whether an unaddressed message is still part of an
	// ongoing exchange.
	Gate *session.Gate

	// CommandPrefix introduces bot commands ("!" by default).
	CommandPrefix string

	// DisplayName is matched in message bodies for addressing, in
	// addition to the user ID.
	DisplayName string

	// Clock abstracts time for the backoff sleeps. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default().
	Logger *slog.Logger
}

// Bot runs the sync loop: it turns room messages into session turns
// and commands, and accepts room invites. One Bot instance serves all
// rooms; per-room concurrency is handled by the session core.
type Bot struct {
	client        *Client
	sessions      *session.Manager
	gate          *session.Gate
	commandPrefix string
	displayName   string
	clock         clock.Clock
	logger        *slog.Logger

	userID string
}

// NewBot creates a Bot.
func NewBot(config BotConfig) *Bot {
	bot := &Bot{
		client:        config.Client,
		sessions:      config.Sessions,
		gate:          config.Gate,
		commandPrefix: config.CommandPrefix,
		displayName:   config.DisplayName,
		clock:         config.Clock,
		logger:        config.Logger,
	}
	if bot.commandPrefix == "" {
		bot.commandPrefix = "!"
	}
	if bot.clock == nil {
		bot.clock = clock.Real()
	}
	if bot.logger == nil {
		bot.logger = slog.Default()
	}
	return bot
}

// Run verifies the access token, performs the initial sync to capture
// the stream position (history before startup is deliberately
// discarded), then long-polls until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	userID, err := b.client.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("verifying access token: %w", err)
	}
	b.userID = userID
	b.logger.Info("gateway connected", "user_id", userID)

	initial, err := b.client.Sync(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	since := initial.NextBatch

	backoff := backoffInitial
	for {
		response, err := b.client.Sync(ctx, since, syncTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				return fmt.Errorf("access token revoked: %w", err)
			}
			b.logger.Warn("sync failed, backing off", "error", err, "backoff", backoff)
			b.clock.Sleep(backoff)
			backoff = min(backoff*2, backoffMax)
			continue
		}
		backoff = backoffInitial
		since = response.NextBatch
		b.dispatch(ctx, response)
	}
}

// dispatch fans one sync response out: accept invites, then handle
// each room's new timeline events.
func (b *Bot) dispatch(ctx context.Context, response *SyncResponse) {
	for roomID := range response.Rooms.Invite {
		if err := b.client.JoinRoom(ctx, roomID); err != nil {
			b.logger.Warn("failed to join invited room", "room", roomID, "error", err)
			continue
		}
		b.logger.Info("joined room", "room", roomID)
	}

	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			b.handleEvent(ctx, roomID, event)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, roomID string, event Event) {
	if event.Type != "m.room.message" || event.Sender == b.userID {
		return
	}

	var content MessageContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		b.logger.Debug("undecodable message content", "room", roomID, "event", event.EventID)
		return
	}
	// Edits of earlier messages are not new turns.
	if content.RelatesTo != nil && content.RelatesTo.RelType == "m.replace" {
		return
	}

	switch content.MsgType {
	case "m.text":
		body := strings.TrimSpace(content.Body)
		if strings.HasPrefix(body, b.commandPrefix) {
			b.runCommand(ctx, roomID, event.Sender, strings.TrimPrefix(body, b.commandPrefix))
			return
		}
		if !b.accepts(ctx, roomID, &content) {
			return
		}
		b.startTurn(ctx, roomID, event.Sender, b.stripAddressing(body), nil)

	case "m.image":
		if !b.accepts(ctx, roomID, &content) {
			return
		}
		attachment, err := b.fetchImage(ctx, &content)
		if err != nil {
			b.logger.Warn("image fetch failed", "room", roomID, "event", event.EventID, "error", err)
			return
		}
		b.startTurn(ctx, roomID, event.Sender, b.stripAddressing(content.Body), []agent.Attachment{attachment})
	}
}

// accepts decides whether a non-command message is for the bot:
// explicitly addressed (m.mentions, name in body, or a reply to one of
// the bot's messages), or inside the conversation's listening window.
func (b *Bot) accepts(ctx context.Context, roomID string, content *MessageContent) bool {
	if content.Mentions != nil {
		for _, mentioned := range content.Mentions.UserIDs {
			if mentioned == b.userID {
				return true
			}
		}
	}
	if strings.Contains(content.Body, b.userID) {
		return true
	}
	if b.displayName != "" && containsWord(content.Body, b.displayName) {
		return true
	}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		parent, err := b.client.GetEvent(ctx, roomID, content.RelatesTo.InReplyTo.EventID)
		if err == nil && parent.Sender == b.userID {
			return true
		}
	}
	return b.gate.Listening(roomID)
}

// startTurn submits the turn on its own goroutine so rooms proceed
// independently; same-room serialization is the session core's job.
// The typing indicator resolves either way: the turn always ends with
// a message or an error message, and typing is cleared after.
func (b *Bot) startTurn(ctx context.Context, roomID, sender, text string, attachments []agent.Attachment) {
	if text == "" && len(attachments) == 0 {
		return
	}

	if err := b.client.SendTyping(ctx, roomID, b.userID, true, typingDuration); err != nil {
		b.logger.Debug("typing indicator failed", "room", roomID, "error", err)
	}

	go func() {
		target := NewTarget(b.client, roomID)
		err := b.sessions.SubmitTurn(ctx, roomID, sender, text, attachments, target)
		if err != nil && !errors.Is(err, session.ErrSessionBusy) {
			b.logger.Warn("turn failed", "room", roomID, "error", err)
		}
		if err := b.client.SendTyping(ctx, roomID, b.userID, false, 0); err != nil {
			b.logger.Debug("typing indicator failed", "room", roomID, "error", err)
		}
	}()
}

// stripAddressing removes the bot's user ID and display name from the
// message body so the agent sees clean text.
func (b *Bot) stripAddressing(body string) string {
	stripped := strings.ReplaceAll(body, b.userID, "")
	if b.displayName != "" {
		stripped = replaceWord(stripped, b.displayName)
	}
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(stripped), ":, "))
}

func (b *Bot) fetchImage(ctx context.Context, content *MessageContent) (agent.Attachment, error) {
	if content.URL == "" {
		return agent.Attachment{}, fmt.Errorf("image event without content URI")
	}
	data, contentType, err := b.client.DownloadMedia(ctx, content.URL)
	if err != nil {
		return agent.Attachment{}, err
	}
	if content.Info != nil && content.Info.MimeType != "" {
		contentType = content.Info.MimeType
	}
	return agent.Attachment{Data: data, MimeType: contentType}, nil
}

// containsWord reports whether body contains word delimited by
// non-letter boundaries, case-insensitively. Prevents "Goose" from
// matching inside "gooseberries".
func containsWord(body, word string) bool {
	return wordIndex(body, word) >= 0
}

// replaceWord removes whole-word occurrences of word from body.
func replaceWord(body, word string) string {
	for {
		index := wordIndex(body, word)
		if index < 0 {
			return body
		}
		body = body[:index] + body[index+len(word):]
	}
}

func wordIndex(body, word string) int {
	lowerBody := strings.ToLower(body)
	lowerWord := strings.ToLower(word)
	offset := 0
	for {
		index := strings.Index(lowerBody[offset:], lowerWord)
		if index < 0 {
			return -1
		}
		index += offset
		beforeOK := index == 0 || !isWordByte(lowerBody[index-1])
		after := index + len(lowerWord)
		afterOK := after == len(lowerBody) || !isWordByte(lowerBody[after])
		if beforeOK && afterOK {
			return index
		}
		offset = index + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
