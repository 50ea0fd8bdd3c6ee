// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/slate/internal/util"
)

// Temperature bounds accepted by the backend contract.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable copy of the settings, taken at the moment
// a turn is submitted. The engine never reads live settings.
type Snapshot struct {
	StreamingEnabled   bool
	Temperature        float64
	SystemInstructions string
}

// =============================================================================
// SETTINGS FILE
// =============================================================================

// fileSettings is the on-disk TOML shape.
type fileSettings struct {
	StreamingEnabled   bool    `toml:"streaming_enabled"`
	Temperature        float64 `toml:"temperature"`
	SystemInstructions string  `toml:"system_instructions"`
}

func defaults() fileSettings {
	return fileSettings{
		StreamingEnabled:   true,
		Temperature:        0.7,
		SystemInstructions: "You are a helpful assistant.",
	}
}

// clamp forces out-of-range values back into the accepted bounds.
func clamp(s fileSettings) fileSettings {
	if s.Temperature < MinTemperature {
		s.Temperature = MinTemperature
	}
	if s.Temperature > MaxTemperature {
		s.Temperature = MaxTemperature
	}
	return s
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager loads, serves, and saves settings. OnChange, when set, runs
// after every change that callers must react to (the engine hooks it
// to invalidate its generation handle).
type Manager struct {
	mu       sync.Mutex
	path     string
	current  fileSettings
	OnChange func()
}

// NewManager creates a manager for the settings file at path, loading
// it immediately. A missing or unreadable file yields defaults.
func NewManager(path string) *Manager {
	m := &Manager{path: path, current: defaults()}
	m.reload()
	return m
}

// Snapshot returns an immutable copy of the current settings.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		StreamingEnabled:   m.current.StreamingEnabled,
		Temperature:        m.current.Temperature,
		SystemInstructions: m.current.SystemInstructions,
	}
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Update applies fn to a copy of the settings, clamps, saves, and
// fires the change hook. The save happens under the lock so that
// concurrent updates cannot persist an older snapshot over a newer
// one; only the hook runs unlocked.
func (m *Manager) Update(fn func(*Snapshot)) error {
	m.mu.Lock()
	snap := Snapshot{
		StreamingEnabled:   m.current.StreamingEnabled,
		Temperature:        m.current.Temperature,
		SystemInstructions: m.current.SystemInstructions,
	}
	fn(&snap)
	m.current = clamp(fileSettings{
		StreamingEnabled:   snap.StreamingEnabled,
		Temperature:        snap.Temperature,
		SystemInstructions: snap.SystemInstructions,
	})
	err := save(m.path, m.current)
	hook := m.OnChange
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

// Reload re-reads the settings file and fires the change hook when
// the stored values differ from the current ones. Used by the file
// watcher.
func (m *Manager) Reload() {
	if m.reload() {
		m.mu.Lock()
		hook := m.OnChange
		m.mu.Unlock()
		if hook != nil {
			hook()
		}
	}
}

// reload reads the file, reporting whether anything changed.
func (m *Manager) reload() bool {
	loaded := defaults()
	if data, err := os.ReadFile(m.path); err == nil {
		// A corrupt file keeps whatever decoded before the error;
		// clamp covers the rest.
		toml.Unmarshal(data, &loaded)
	}
	loaded = clamp(loaded)

	m.mu.Lock()
	defer m.mu.Unlock()
	if loaded == m.current {
		return false
	}
	m.current = loaded
	return true
}

// save writes the settings file atomically.
func save(path string, s fileSettings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
