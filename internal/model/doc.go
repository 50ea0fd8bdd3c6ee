// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the persisted data structures for chat
// sessions and messages.
//
// Two invariants matter here: a Message's ID and Role never change
// after creation (only Text is rewritten, during streaming and
// edits), and Role serializes as a stable integer (0=user,
// 1=assistant) so stored transcripts survive renames of the Go
// identifiers.
package model
