// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/morganforge/slate/internal/model"
	"github.com/morganforge/slate/internal/storage"
	"github.com/morganforge/slate/internal/util"
)

// PreviewMaxLen bounds the stored preview text in runes.
const PreviewMaxLen = 80

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the session index (most-recently-active first), the
// session-id to message-list map, and the active list.
//
// OnActiveChanged, when set, runs after the active session changes or
// the conversation is reset — the engine hooks it to invalidate its
// generation handle so backend context never leaks across sessions.
// It is always invoked without the manager's lock held.
type Manager struct {
	mu       sync.Mutex
	store    *storage.Store
	sessions []model.Session
	threads  map[string][]model.Message
	active   []model.Message
	activeID string

	OnActiveChanged func()
}

// NewManager loads the persisted state and activates the most recent
// session, if any. Corrupt or missing blobs yield an empty index; the
// client always starts.
func NewManager(store *storage.Store) *Manager {
	m := &Manager{
		store:    store,
		sessions: store.LoadSessions(),
		threads:  store.LoadMessages(),
	}
	if len(m.sessions) > 0 {
		m.activeID = m.sessions[0].ID
		m.active = copyMessages(m.threads[m.activeID])
	}
	return m
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Sessions returns a copy of the session index, most recent first.
func (m *Manager) Sessions() []model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// ActiveID returns the active session's ID, or "" when no session is
// active.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ActiveSession returns the active session record, if any.
func (m *Manager) ActiveSession() (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOfLocked(m.activeID)
	if idx < 0 {
		return model.Session{}, false
	}
	return m.sessions[idx], true
}

// Snapshot returns a copy of the active message list.
func (m *Manager) Snapshot() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyMessages(m.active)
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Create allocates a new session, inserts it at the front of the
// index, marks it active, seeds its message-list entry with the
// current active list, and persists both aggregates. firstText
// becomes the preview; empty means the placeholder.
func (m *Manager) Create(firstText string) model.Session {
	m.mu.Lock()
	m.flushActiveLocked()
	s := m.createLocked(firstText)
	m.persistLocked()
	hook := m.OnActiveChanged
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return s
}

// NewConversation resets to an empty thread: the current active list
// is flushed, a fresh session is created and activated, and the
// generation handle is invalidated via the hook.
func (m *Manager) NewConversation() model.Session {
	m.mu.Lock()
	m.flushActiveLocked()
	m.active = nil
	s := m.createLocked("")
	m.persistLocked()
	hook := m.OnActiveChanged
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return s
}

// Switch makes target the active session. A no-op when target is
// already active. The outgoing active list is flushed and persisted
// before the target's list is materialized.
func (m *Manager) Switch(targetID string) {
	m.mu.Lock()
	if targetID == m.activeID || m.indexOfLocked(targetID) < 0 {
		m.mu.Unlock()
		return
	}

	m.flushActiveLocked()
	m.persistLocked()

	m.activeID = targetID
	m.active = copyMessages(m.threads[targetID])
	hook := m.OnActiveChanged
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Delete removes a session and its message-list entry. When the
// active session is deleted, the most recent remaining session takes
// over; with none left the manager enters the "no active session"
// state and the next send creates a fresh session.
func (m *Manager) Delete(targetID string) {
	m.mu.Lock()
	idx := m.indexOfLocked(targetID)
	if idx < 0 {
		m.mu.Unlock()
		return
	}

	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	delete(m.threads, targetID)

	wasActive := targetID == m.activeID
	if wasActive {
		if len(m.sessions) > 0 {
			m.activeID = m.sessions[0].ID
			m.active = copyMessages(m.threads[m.activeID])
		} else {
			m.activeID = ""
			m.active = nil
		}
	}
	m.persistLocked()
	hook := m.OnActiveChanged
	m.mu.Unlock()

	if wasActive && hook != nil {
		hook()
	}
}

// =============================================================================
// TRANSCRIPT (engine-facing)
// =============================================================================

// AppendUser appends a user message to the active list, creating a
// session when none is active, and touches the session's preview,
// timestamp, and front-of-index position.
func (m *Manager) AppendUser(text string) model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		m.createLocked(text)
	}

	msg := model.NewUserMessage(text)
	m.active = append(m.active, msg)
	m.touchLocked(text)
	return msg
}

// AppendAssistant appends an empty assistant placeholder, the target
// for streamed partials.
func (m *Manager) AppendAssistant() model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := model.NewAssistantMessage()
	m.active = append(m.active, msg)
	return msg
}

// SetText overwrites the text of the message with the given ID.
func (m *Manager) SetText(id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.active {
		if m.active[i].ID == id {
			m.active[i].Text = text
			return
		}
	}
}

// Remove deletes the message with the given ID from the active list.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.active {
		if m.active[i].ID == id {
			m.active = append(m.active[:i], m.active[i+1:]...)
			return true
		}
	}
	return false
}

// FinishTurn is the persistence checkpoint at the end of a completed
// turn or edit: the active list is flushed into the message map, the
// lazy title is assigned if the session still carries the default
// one, and both aggregates are saved.
func (m *Manager) FinishTurn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return nil
	}
	m.flushActiveLocked()
	m.renameFromFirstUserLocked()
	return m.persistLocked()
}

// =============================================================================
// INTERNALS (lock held)
// =============================================================================

// createLocked allocates and activates a new session at the front of
// the index, seeding its entry with the current active list.
func (m *Manager) createLocked(firstText string) model.Session {
	preview := util.TruncateRunes(util.CollapseWhitespace(firstText), PreviewMaxLen)
	s := model.NewSession(preview)
	m.sessions = append([]model.Session{s}, m.sessions...)
	m.activeID = s.ID
	m.threads[s.ID] = copyMessages(m.active)
	return s
}

// touchLocked updates the active session's preview and timestamp and
// moves it to the front of the index.
func (m *Manager) touchLocked(promptText string) {
	idx := m.indexOfLocked(m.activeID)
	if idx < 0 {
		return
	}
	m.sessions[idx].PreviewText = util.TruncateRunes(util.CollapseWhitespace(promptText), PreviewMaxLen)
	m.sessions[idx].Date = time.Now()

	if idx > 0 {
		s := m.sessions[idx]
		m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
		m.sessions = append([]model.Session{s}, m.sessions...)
	}
}

// renameFromFirstUserLocked assigns the lazy title from the first
// user message, once. A session that already has a non-default title
// keeps it.
func (m *Manager) renameFromFirstUserLocked() {
	idx := m.indexOfLocked(m.activeID)
	if idx < 0 || !m.sessions[idx].HasDefaultTitle() {
		return
	}
	for _, msg := range m.active {
		if msg.Role == model.RoleUser {
			m.sessions[idx].Title = model.DeriveTitle(msg.Text)
			return
		}
	}
}

// flushActiveLocked copies the active list back into the message map.
func (m *Manager) flushActiveLocked() {
	if m.activeID == "" {
		return
	}
	m.threads[m.activeID] = copyMessages(m.active)
}

// persistLocked saves both aggregates. The first failure wins; a
// failed save leaves the in-memory state authoritative until the next
// checkpoint.
func (m *Manager) persistLocked() error {
	if err := m.store.SaveSessions(m.sessions); err != nil {
		return err
	}
	return m.store.SaveMessages(m.threads)
}

func (m *Manager) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func copyMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
