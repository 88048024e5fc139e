// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "encoding/json"

// MessageContent is the content body of a Matrix message event
// (m.room.message). Only the fields the bot reads or writes are
// modeled.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`

	// URL is the mxc:// content URI of an m.image event.
	URL string `json:"url,omitempty"`

	// Info carries metadata for media messages.
	Info *MediaInfo `json:"info,omitempty"`

	// Mentions lists explicitly mentioned users (MSC3952).
	Mentions *Mentions `json:"m.mentions,omitempty"`

	// RelatesTo carries edit and reply relations.
	RelatesTo *RelatesTo `json:"m.relates_to,omitempty"`

	// NewContent is the replacement content of an edit event.
	NewContent *MessageContent `json:"m.new_content,omitempty"`
}

// MediaInfo is the metadata block of a media message.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Mentions is the m.mentions block of a message.
type Mentions struct {
	UserIDs []string `json:"user_ids,omitempty"`
	Room    bool     `json:"room,omitempty"`
}

// RelatesTo is the m.relates_to block of a message.
type RelatesTo struct {
	RelType   string     `json:"rel_type,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	InReplyTo *InReplyTo `json:"m.in_reply_to,omitempty"`
}

// InReplyTo names the event a message replies to.
type InReplyTo struct {
	EventID string `json:"event_id"`
}

// Event is a Matrix room event as delivered by sync.
type Event struct {
	Type           string          `json:"type"`
	EventID        string          `json:"event_id"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// SyncResponse is the subset of the /sync response the bot consumes.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]JoinedRoom  `json:"join"`
		Invite map[string]InvitedRoom `json:"invite"`
	} `json:"rooms"`
}

// JoinedRoom is the per-room payload for rooms the bot has joined.
type JoinedRoom struct {
	Timeline struct {
		Events []Event `json:"events"`
	} `json:"timeline"`
}

// InvitedRoom is the per-room payload for pending invites. The bot
// only needs its presence, not its contents.
type InvitedRoom struct{}

type whoAmIResponse struct {
	UserID string `json:"user_id"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

type joinRoomResponse struct {
	RoomID string `json:"room_id"`
}
