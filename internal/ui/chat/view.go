// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/morganforge/slate/internal/model"
	"github.com/morganforge/slate/internal/ui/styles"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.picking {
		return m.pickerView()
	}

	var b strings.Builder
	b.WriteString(styles.Header.Render(m.title()))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) title() string {
	if s, ok := m.manager.ActiveSession(); ok {
		return s.Title
	}
	return model.DefaultTitle
}

func (m Model) statusLine() string {
	if m.errText != "" {
		return styles.ErrorText.Render(styles.PadRight(m.errText, m.width))
	}
	hint := "enter send | ctrl+n new | ctrl+s sessions | ctrl+r regenerate | ctrl+c quit"
	if m.responding {
		hint = m.spin.View() + " responding... (enter to stop)"
	}
	return styles.Dim.Render(styles.PadRight(hint, m.width))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// refreshTranscript re-renders the active message list into the
// viewport. followTail keeps the view pinned to the newest content,
// which is where streaming partials land.
func (m *Model) refreshTranscript(followTail bool) {
	if !m.ready {
		return
	}

	var b strings.Builder
	for _, msg := range m.manager.Snapshot() {
		switch msg.Role {
		case model.RoleUser:
			b.WriteString(styles.UserLabel.Render(msg.Role.DisplayName()))
			b.WriteString("\n")
			b.WriteString(msg.Text)
			b.WriteString("\n\n")
		case model.RoleAssistant:
			b.WriteString(styles.AssistantLabel.Render(msg.Role.DisplayName()))
			b.WriteString("\n")
			b.WriteString(m.renderMarkdown(msg.Text))
			b.WriteString("\n")
		}
	}

	m.viewport.SetContent(b.String())
	if followTail {
		m.viewport.GotoBottom()
	}
}

// renderMarkdown renders assistant text through glamour, falling back
// to the raw text when no renderer is available.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil || text == "" {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// =============================================================================
// SESSION PICKER
// =============================================================================

func (m Model) pickerView() string {
	sessions := m.manager.Sessions()

	var b strings.Builder
	b.WriteString(styles.Header.Render("Sessions"))
	b.WriteString("\n\n")

	if len(sessions) == 0 {
		b.WriteString(styles.Dim.Render("  No sessions yet."))
		b.WriteString("\n")
	}

	activeID := m.manager.ActiveID()
	for i, s := range sessions {
		marker := "  "
		if s.ID == activeID {
			marker = "* "
		}
		line := marker + styles.PadRight(s.Title, 18) + " " + s.PreviewText
		line = styles.PadRight(line, m.width-2)
		if i == m.pickIndex {
			b.WriteString(styles.Selected.Render(line))
		} else if s.ID == activeID {
			b.WriteString(line)
		} else {
			b.WriteString(styles.Dim.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styles.Dim.Render("enter switch | d delete | esc close"))
	return b.String()
}
