// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/slate/internal/engine"
	"github.com/morganforge/slate/internal/model"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case PartialMsg:
		m.responding = true
		m.refreshTranscript(true)
		return m, nil

	case TurnEndMsg:
		m.responding = false
		if msg.Err != nil {
			m.errText = msg.Err.Error()
		}
		m.refreshTranscript(true)
		return m, nil

	case submitResultMsg:
		m.responding = m.eng.IsResponding()
		if msg.err != nil && !errors.Is(msg.err, engine.ErrEmptyPrompt) {
			m.errText = msg.err.Error()
		}
		m.refreshTranscript(true)
		if m.responding {
			return m, m.spin.Tick
		}
		return m, nil

	default:
		var cmds []tea.Cmd
		if m.responding {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picking {
		return m.handlePickerKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		m.eng.Cancel()
		return m, tea.Quit

	case "enter":
		return m.submit()

	case "ctrl+n":
		m.eng.Cancel()
		m.manager.NewConversation()
		m.errText = ""
		m.refreshTranscript(true)
		return m, nil

	case "ctrl+s":
		m.picking = true
		m.pickIndex = 0
		return m, nil

	case "ctrl+r":
		return m.regenerateLast()

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sessions := m.manager.Sessions()

	switch msg.String() {
	case "esc", "ctrl+s":
		m.picking = false

	case "up", "k":
		if m.pickIndex > 0 {
			m.pickIndex--
		}

	case "down", "j":
		if m.pickIndex < len(sessions)-1 {
			m.pickIndex++
		}

	case "enter":
		if m.pickIndex < len(sessions) {
			// Switching cancels the in-flight turn via the engine
			// invalidation hook; stale partials are dropped.
			m.manager.Switch(sessions[m.pickIndex].ID)
		}
		m.picking = false
		m.errText = ""
		m.refreshTranscript(true)

	case "d":
		if m.pickIndex < len(sessions) {
			m.manager.Delete(sessions[m.pickIndex].ID)
			if m.pickIndex > 0 {
				m.pickIndex--
			}
		}
		m.refreshTranscript(true)
	}

	return m, nil
}

// =============================================================================
// ACTIONS
// =============================================================================

// submit starts a turn, or requests cancellation while responding —
// the same key doubles as the stop control.
func (m Model) submit() (tea.Model, tea.Cmd) {
	prompt := m.input.Value()
	if !m.eng.IsResponding() {
		m.input.Reset()
	}
	m.errText = ""
	snap := m.settings.Snapshot()
	eng := m.eng
	return m, func() tea.Msg {
		return submitResultMsg{err: eng.Submit(snap, prompt)}
	}
}

func (m Model) regenerateLast() (tea.Model, tea.Cmd) {
	msgs := m.manager.Snapshot()
	var lastAssistant string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			lastAssistant = msgs[i].ID
			break
		}
	}
	if lastAssistant == "" {
		return m, nil
	}
	m.errText = ""
	snap := m.settings.Snapshot()
	eng := m.eng
	return m, func() tea.Msg {
		return submitResultMsg{err: eng.Regenerate(lastAssistant, snap)}
	}
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) resize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	inputHeight := 3
	headerHeight := 1
	statusHeight := 1
	vpHeight := m.height - inputHeight - headerHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(m.width - 2)
	m.rebuildRenderer()
	m.refreshTranscript(true)
	return m
}
