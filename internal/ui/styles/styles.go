// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for the slate TUI.
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// =============================================================================
// PALETTE
// =============================================================================

var (
	ColorAccent = lipgloss.Color("62")  // muted purple
	ColorDim    = lipgloss.Color("241") // grey
	ColorUser   = lipgloss.Color("39")  // blue
	ColorError  = lipgloss.Color("196") // red
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Header is the session title bar.
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Padding(0, 1)

	// UserLabel prefixes user messages.
	UserLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorUser)

	// AssistantLabel prefixes assistant messages.
	AssistantLabel = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	// Dim renders secondary text: previews, hints, timestamps.
	Dim = lipgloss.NewStyle().
		Foreground(ColorDim)

	// ErrorText renders turn failures.
	ErrorText = lipgloss.NewStyle().
			Foreground(ColorError)

	// Selected highlights the selected row in the session picker.
	Selected = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(ColorAccent)
)

// HasDarkBackground reports the terminal background, used to pick the
// glamour style.
func HasDarkBackground() bool {
	return termenv.HasDarkBackground()
}

// PadRight pads s with spaces to the given display width, truncating
// when it is too wide. Width-aware so CJK input lines up.
func PadRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w > width {
		return runewidth.Truncate(s, width, "...")
	}
	return s + strings.Repeat(" ", width-w)
}
