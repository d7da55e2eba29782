// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// ReloadFunc receives the freshly-loaded config after a file change.
type ReloadFunc func(*Config)

// Watcher reloads the config file when it changes on disk.
//
// Editors typically write configs via rename, so the watcher observes the
// parent directory and filters events down to the config path. Changes are
// debounced: rapid successive writes produce one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending bool
	lastEvt time.Time
}

// NewWatcher creates a watcher for the given config path.
func NewWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onReload: onReload,
		watcher:  fsw,
	}, nil
}

// Watch starts watching. It returns immediately; reloads are delivered on a
// background goroutine until Close.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.processEvents(ctx)
	go w.processPending(ctx)
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

// processEvents marks the config as dirty on relevant fs events.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(w.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastEvt = time.Now()
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are not fatal; the next poll tick retries.
		}
	}
}

// processPending fires the reload once events have settled.
func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			ready := w.pending && time.Since(w.lastEvt) >= w.debounce
			if ready {
				w.pending = false
			}
			w.mu.Unlock()

			if !ready {
				continue
			}
			cfg, err := LoadFromPath(w.path)
			if err != nil {
				// Bad intermediate state (partial write, syntax error):
				// keep the old config and wait for the next change.
				continue
			}
			if w.onReload != nil {
				w.onReload(cfg)
			}
		}
	}
}
