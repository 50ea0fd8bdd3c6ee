// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/slate/internal/util"
)

// DefaultTitle is the placeholder title a session carries until its
// first user message has been seen.
const DefaultTitle = "New Chat"

// DefaultPreview is shown for a session that has no prompt yet.
const DefaultPreview = "New conversation"

// TitleMaxLen is the maximum title length in runes when deriving a
// title from the first user message.
const TitleMaxLen = 15

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is one persisted conversation thread. Its message list is
// stored separately, keyed by Session.ID (see internal/storage).
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	PreviewText string    `json:"previewText"`
}

// NewSession creates a session with the default title and the given
// preview text (or the placeholder when empty).
func NewSession(preview string) Session {
	if preview == "" {
		preview = DefaultPreview
	}
	return Session{
		ID:          uuid.NewString(),
		Title:       DefaultTitle,
		Date:        time.Now(),
		PreviewText: preview,
	}
}

// HasDefaultTitle reports whether the session still carries the
// placeholder title and is eligible for lazy title derivation.
func (s Session) HasDefaultTitle() bool {
	return s.Title == DefaultTitle
}

// DeriveTitle produces a session title from the first user message:
// whitespace collapsed, truncated to TitleMaxLen runes.
func DeriveTitle(firstUserText string) string {
	t := util.CollapseWhitespace(firstUserText)
	if t == "" {
		return DefaultTitle
	}
	return util.TruncateRunes(t, TitleMaxLen)
}
