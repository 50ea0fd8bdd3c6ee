// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import "context"

// =============================================================================
// AVAILABILITY
// =============================================================================

// UnavailableReason explains why a backend cannot take requests.
type UnavailableReason int

const (
	ReasonUnknown UnavailableReason = iota
	ReasonDeviceIneligible
	ReasonFeatureDisabled
	ReasonModelNotReady
)

// String returns a short description suitable for user display.
func (r UnavailableReason) String() string {
	switch r {
	case ReasonDeviceIneligible:
		return "this device cannot run the model"
	case ReasonFeatureDisabled:
		return "model support is disabled"
	case ReasonModelNotReady:
		return "the model is not ready"
	default:
		return "the model is unavailable"
	}
}

// Availability is the result of a pre-turn readiness probe.
type Availability struct {
	Available bool
	Reason    UnavailableReason
}

// =============================================================================
// GENERATION CONTRACT
// =============================================================================

// Options are per-request generation parameters.
type Options struct {
	// Temperature in [0.0, 2.0]. Values outside are clamped by the
	// settings layer before they reach a Generator.
	Temperature float64
}

// Chunk is one element of a response stream. Text is the cumulative
// response so far. Err, when non-nil, terminates the stream; the
// channel is closed immediately after.
type Chunk struct {
	Text string
	Err  error
}

// Handle is an opaque, ephemeral generation context. It binds a
// system-instructions string to whatever per-conversation state the
// backend keeps. Handles are never persisted; dropping one loses the
// backend's memory of prior turns even though the stored transcript
// survives.
type Handle interface {
	// Instructions returns the system instructions the handle was
	// created with.
	Instructions() string
}

// Generator is a language-model backend. Implementations must treat
// ctx cancellation as a cooperative stop: cease work, emit no further
// chunks, and close any stream channel.
type Generator interface {
	// Availability probes whether the backend can take a request
	// right now.
	Availability(ctx context.Context) Availability

	// CreateContext creates a fresh generation context bound to the
	// given system instructions.
	CreateContext(instructions string) (Handle, error)

	// Respond generates the whole response in one call.
	Respond(ctx context.Context, h Handle, prompt string, opts Options) (string, error)

	// StreamRespond generates incrementally. The returned channel
	// yields cumulative snapshots and is closed when generation
	// completes, fails, or ctx is cancelled.
	StreamRespond(ctx context.Context, h Handle, prompt string, opts Options) (<-chan Chunk, error)
}
