// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/morganforge/slate/internal/kvstore"
	"github.com/morganforge/slate/internal/model"
)

// Fixed blob keys. Each aggregate is written as one opaque JSON blob.
const (
	sessionsKey = "slate.sessions"
	messagesKey = "slate.messages"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists the session index and the message map.
type Store struct {
	kv kvstore.Store
}

// New creates a Store over the given blob store.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// =============================================================================
// SESSION INDEX
// =============================================================================

// SaveSessions overwrites the persisted session index. Order is
// meaningful: the slice is stored most-recently-active first.
func (s *Store) SaveSessions(sessions []model.Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode session index: %w", err)
	}
	if err := s.kv.Put(sessionsKey, data); err != nil {
		return fmt.Errorf("failed to save session index: %w", err)
	}
	return nil
}

// LoadSessions returns the persisted session index. A missing or
// undecodable blob yields an empty index, not an error.
func (s *Store) LoadSessions() []model.Session {
	data, ok, err := s.kv.Get(sessionsKey)
	if err != nil || !ok {
		return []model.Session{}
	}

	var sessions []model.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		// Corrupt blob; recover with an empty index.
		return []model.Session{}
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions
}

// =============================================================================
// MESSAGE MAP
// =============================================================================

// SaveMessages overwrites the persisted session-id to message-list
// mapping.
func (s *Store) SaveMessages(messages map[string][]model.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode message map: %w", err)
	}
	if err := s.kv.Put(messagesKey, data); err != nil {
		return fmt.Errorf("failed to save message map: %w", err)
	}
	return nil
}

// LoadMessages returns the persisted message map. A missing or
// undecodable blob yields an empty map, not an error. Entries whose
// messages carry a role outside the closed set are dropped rather
// than surfaced.
func (s *Store) LoadMessages() map[string][]model.Message {
	data, ok, err := s.kv.Get(messagesKey)
	if err != nil || !ok {
		return map[string][]model.Message{}
	}

	var messages map[string][]model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return map[string][]model.Message{}
	}
	if messages == nil {
		messages = map[string][]model.Message{}
	}

	for id, list := range messages {
		messages[id] = dropInvalid(list)
	}
	return messages
}

// dropInvalid filters out messages with out-of-range roles.
func dropInvalid(list []model.Message) []model.Message {
	out := list[:0]
	for _, m := range list {
		if m.Role.Valid() {
			out = append(out, m)
		}
	}
	return out
}
