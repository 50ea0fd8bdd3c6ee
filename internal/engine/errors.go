// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"errors"

	"github.com/morganforge/slate/internal/backend"
)

// ErrEmptyPrompt is returned when a submitted prompt is blank after
// trimming. No state is mutated.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ErrTurnInProgress is returned by edit and regenerate operations
// while a turn is already responding. Submit never returns it; a
// submit during Responding is reinterpreted as a cancel request.
var ErrTurnInProgress = errors.New("a response is already in progress")

// =============================================================================
// UNAVAILABLE
// =============================================================================

// UnavailableError reports that the backend refused a turn before any
// state was mutated.
type UnavailableError struct {
	Reason backend.UnavailableReason
}

func (e *UnavailableError) Error() string {
	return "backend unavailable: " + e.Reason.String()
}

// =============================================================================
// GENERATION FAILURE
// =============================================================================

// GenerationError wraps a failure that occurred after a turn started.
// The partial text already applied to the placeholder message is
// preserved; the engine is back in Idle and accepts new turns.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	if e.Cause == nil {
		return "generation failed"
	}
	return "generation failed: " + e.Cause.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
