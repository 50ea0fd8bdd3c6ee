// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine owns the turn-execution state machine: whether a
// response is currently being generated, how streamed partials reach
// the active transcript, and how cancellation, edits, and
// regeneration interact with an in-flight turn.
//
// The machine has two states, Idle and Responding. Responding is the
// mutual exclusion for the single active turn: submitting while
// Responding never starts a second turn, it requests cancellation of
// the current one. Cancellation is cooperative — the engine stops
// consuming the stream between chunks, keeps whatever partial text
// was already applied, and returns to Idle.
//
// A generation counter guards the transcript: switching sessions or
// changing settings bumps it, so partials from a superseded turn are
// dropped instead of being written into the wrong conversation.
package engine
