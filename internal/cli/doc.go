// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the plain-terminal REPL, used with --plain or
// when stdout is not a TTY capable of the full interface.
package cli
