// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view: transcript
// viewport, input line, and the session picker overlay.
//
// The view never talks to the backend directly. It submits through
// the engine and receives engine events as Bubble Tea messages,
// re-rendering the transcript from the session manager each time.
package chat
