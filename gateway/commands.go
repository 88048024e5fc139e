// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ananasregina/GooseBot/session"
)

const helpText = `Commands:
  !name <name>  set the agent's display name for this room
  !clear        forget this room's session entirely
  !restart      drop the agent session, keep the room entry
  !compact      compact the agent's session context
  !status       show this room's session state
  !help         this message

Anything else addressed to me (mention, reply, or within the listening
window after my last answer) is sent to the agent.`

// runCommand parses and executes one bot command and replies with the
// result. body arrives with the command prefix already stripped.
func (b *Bot) runCommand(ctx context.Context, roomID, sender, body string) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	arguments := fields[1:]

	b.logger.Info("command received", "room", roomID, "sender", sender, "command", command)

	var reply string
	switch command {
	case "name":
		if len(arguments) == 0 {
			reply = "Usage: " + b.commandPrefix + "name <name>"
			break
		}
		name := strings.Join(arguments, " ")
		if err := b.sessions.SetName(roomID, name); err != nil {
			reply = "Failed to save the name. It will apply to this run only."
		} else {
			reply = fmt.Sprintf("Agent name set to %q for future sessions.", name)
		}

	case "clear":
		if err := b.sessions.Clear(roomID); err != nil {
			b.logger.Warn("clear failed to persist", "room", roomID, "error", err)
		}
		reply = "Session cleared. The next message starts fresh."

	case "restart":
		if err := b.sessions.Restart(roomID); err != nil {
			b.logger.Warn("restart failed to persist", "room", roomID, "error", err)
		}
		reply = "Session restarted. The next message starts fresh."

	case "compact":
		switch err := b.sessions.Compact(ctx, roomID); {
		case err == nil:
			reply = "Session context compacted."
		case errors.Is(err, session.ErrNoSession):
			reply = "No active session to compact."
		case errors.Is(err, session.ErrSessionBusy):
			reply = "A turn is in flight. Try compacting when it finishes."
		default:
			reply = "Compaction failed. See the logs for detail."
		}

	case "status":
		reply = b.statusReply(roomID)

	case "help":
		reply = helpText

	default:
		reply = fmt.Sprintf("Unknown command %q. Try %shelp.", command, b.commandPrefix)
	}

	if _, err := b.client.SendMessage(ctx, roomID, reply); err != nil {
		b.logger.Warn("command reply failed", "room", roomID, "error", err)
	}
}

func (b *Bot) statusReply(roomID string) string {
	status, ok := b.sessions.Status(roomID)
	if !ok {
		return "No session for this room yet. Say hi to start one."
	}

	var lines []string
	lines = append(lines, "Agent: "+status.AgentName)
	if status.HasSession {
		lines = append(lines, "Session: active")
	} else {
		lines = append(lines, "Session: not started")
	}
	if !status.LastActiveAt.IsZero() {
		lines = append(lines, "Last activity: "+status.LastActiveAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if status.Pending {
		lines = append(lines, "A turn is in flight.")
	}
	return strings.Join(lines, "\n")
}
