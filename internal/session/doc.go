// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages the conversation threads: the ordered
// session index, the per-session message map, and the materialized
// active message list the UI displays and the engine mutates.
//
// At most one session is active. Deleting the last session leaves a
// distinct "no active session" state — different from a session with
// zero messages — and the next send creates a fresh session.
package session
