// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/morganforge/slate/internal/engine"
	"github.com/morganforge/slate/internal/session"
	"github.com/morganforge/slate/internal/settings"
	"github.com/morganforge/slate/internal/ui/styles"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the chat view state.
type Model struct {
	manager  *session.Manager
	eng      *engine.Engine
	settings *settings.Manager

	input    textarea.Model
	viewport viewport.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	responding bool
	errText    string

	// Session picker overlay.
	picking   bool
	pickIndex int
}

// New creates the chat view.
func New(manager *session.Manager, eng *engine.Engine, sm *settings.Manager) Model {
	input := textarea.New()
	input.Placeholder = "Ask anything..."
	input.ShowLineNumbers = false
	input.SetHeight(2)
	input.CharLimit = 0
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot

	return Model{
		manager:  manager,
		eng:      eng,
		settings: sm,
		input:    input,
		spin:     spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// rebuildRenderer sizes the markdown renderer to the viewport. A nil
// renderer falls back to plain text.
func (m *Model) rebuildRenderer() {
	style := "light"
	if styles.HasDarkBackground() {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(m.width-2),
	)
	if err != nil {
		m.renderer = nil
		return
	}
	m.renderer = r
}
