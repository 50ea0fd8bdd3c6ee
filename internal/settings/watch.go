// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the manager whenever its settings file changes on
// disk, until ctx is cancelled. Editors and the atomic saver both
// replace the file rather than rewriting it in place, so the watch is
// on the parent directory.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					m.Reload()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watch errors are not fatal; settings just stop
				// hot-reloading until restart.
			}
		}
	}()

	return nil
}
