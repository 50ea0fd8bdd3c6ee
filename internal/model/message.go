// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role identifies the sender of a message.
//
// The integer values are part of the persistence format and must not
// be reordered.
type Role int

const (
	RoleUser      Role = 0
	RoleAssistant Role = 1
)

// String returns the wire-independent name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return r.String()
	}
}

// Valid reports whether the role is one of the closed set. Used when
// decoding persisted transcripts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single entry in a session transcript.
//
// ID and Role are immutable once created. Text is the streaming
// target for assistant messages: each cumulative partial overwrites
// it wholesale until the turn completes.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewUserMessage creates a user message with a generated ID.
func NewUserMessage(text string) Message {
	return Message{
		ID:   uuid.NewString(),
		Role: RoleUser,
		Text: text,
	}
}

// NewAssistantMessage creates an empty assistant message. The empty
// text is intentional: it is the placeholder that streaming partials
// are written into.
func NewAssistantMessage() Message {
	return Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
	}
}

// IsEmpty reports whether the message has no content yet.
func (m Message) IsEmpty() bool {
	return len(m.Text) == 0
}
