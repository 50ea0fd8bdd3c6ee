// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.toml")
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	m := NewManager(testPath(t))

	snap := m.Snapshot()
	if !snap.StreamingEnabled {
		t.Error("streaming should default to enabled")
	}
	if snap.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", snap.Temperature)
	}
	if snap.SystemInstructions == "" {
		t.Error("system instructions should have a default")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := testPath(t)
	content := `streaming_enabled = false
temperature = 1.2
system_instructions = "Answer briefly."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap := NewManager(path).Snapshot()
	if snap.StreamingEnabled {
		t.Error("streaming should be disabled")
	}
	if snap.Temperature != 1.2 {
		t.Errorf("temperature = %v, want 1.2", snap.Temperature)
	}
	if snap.SystemInstructions != "Answer briefly." {
		t.Errorf("instructions = %q", snap.SystemInstructions)
	}
}

func TestTemperatureClamped(t *testing.T) {
	path := testPath(t)
	os.WriteFile(path, []byte("temperature = 9.5\n"), 0o644)

	if got := NewManager(path).Snapshot().Temperature; got != MaxTemperature {
		t.Errorf("temperature = %v, want clamped to %v", got, MaxTemperature)
	}

	os.WriteFile(path, []byte("temperature = -3.0\n"), 0o644)
	if got := NewManager(path).Snapshot().Temperature; got != MinTemperature {
		t.Errorf("temperature = %v, want clamped to %v", got, MinTemperature)
	}
}

func TestCorruptFileYieldsDefaults(t *testing.T) {
	path := testPath(t)
	os.WriteFile(path, []byte("{{{ not toml"), 0o644)

	snap := NewManager(path).Snapshot()
	if !snap.StreamingEnabled || snap.Temperature != 0.7 {
		t.Errorf("corrupt file should fall back to defaults, got %+v", snap)
	}
}

func TestUpdatePersistsAndFiresHook(t *testing.T) {
	path := testPath(t)
	m := NewManager(path)

	fired := 0
	m.OnChange = func() { fired++ }

	err := m.Update(func(s *Snapshot) {
		s.Temperature = 1.5
		s.StreamingEnabled = false
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if fired != 1 {
		t.Errorf("hook fired %d times, want 1", fired)
	}

	// A fresh manager sees the saved values.
	snap := NewManager(path).Snapshot()
	if snap.Temperature != 1.5 || snap.StreamingEnabled {
		t.Errorf("reloaded = %+v", snap)
	}
}

func TestConcurrentUpdatesKeepFileAndMemoryInSync(t *testing.T) {
	path := testPath(t)
	m := NewManager(path)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		temp := float64(i) * 0.25
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Update(func(s *Snapshot) { s.Temperature = temp }); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	// Whichever update ran last, the file must hold the same snapshot
	// as memory.
	onDisk := NewManager(path).Snapshot()
	if onDisk != m.Snapshot() {
		t.Errorf("disk %+v and memory %+v diverged", onDisk, m.Snapshot())
	}
}

func TestUpdateClampsBeforeSaving(t *testing.T) {
	m := NewManager(testPath(t))

	m.Update(func(s *Snapshot) { s.Temperature = 42 })
	if got := m.Snapshot().Temperature; got != MaxTemperature {
		t.Errorf("temperature = %v, want %v", got, MaxTemperature)
	}
}

func TestReloadFiresHookOnlyOnChange(t *testing.T) {
	path := testPath(t)
	m := NewManager(path)

	fired := 0
	m.OnChange = func() { fired++ }

	// Nothing on disk changed.
	m.Reload()
	if fired != 0 {
		t.Errorf("hook fired %d times for an unchanged file", fired)
	}

	os.WriteFile(path, []byte("temperature = 0.2\n"), 0o644)
	m.Reload()
	if fired != 1 {
		t.Errorf("hook fired %d times, want 1", fired)
	}
	if got := m.Snapshot().Temperature; got != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got)
	}
}
