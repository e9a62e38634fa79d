// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultWatchDebounce is how long to wait after the last write event
// before reloading. Editors often write config files in several bursts.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(*Config)

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the given config path. onReload is
// called with the freshly loaded config after each change; invalid
// configs are logged and skipped, keeping the previous config active.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		watcher:  fsWatcher,
		debounce: DefaultWatchDebounce,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}
	return w, nil
}

// Watch starts watching for config changes.
func (w *Watcher) Watch() error {
	// Watch the parent directory: editors replace files via rename,
	// which drops a watch placed on the file itself.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()
	return nil
}

// processEvents records relevant file system events.
func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG_WATCH_ERROR | error=%v", err)
		}
	}
}

// processPending reloads the config after the debounce window passes.
func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if ready {
				w.reload()
			}
		}
	}
}

// reload loads the config file and fires the callback.
func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", w.path, err)
		return
	}

	log.Printf("CONFIG_RELOADED | path=%s", w.path)
	SetGlobal(cfg)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
