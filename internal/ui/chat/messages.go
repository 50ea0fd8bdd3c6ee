// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// ENGINE EVENT MESSAGES
// =============================================================================

// PartialMsg delivers a cumulative streaming partial that has already
// been applied to the transcript.
type PartialMsg struct {
	MessageID string
	Text      string
}

// TurnEndMsg signals the Responding -> Idle transition. Err is nil on
// success and on cancellation.
type TurnEndMsg struct {
	MessageID string
	Err       error
}

// =============================================================================
// INTERNAL MESSAGES
// =============================================================================

// submitResultMsg carries the synchronous outcome of a submit,
// edit, or regenerate call run off the update loop.
type submitResultMsg struct {
	err error
}
