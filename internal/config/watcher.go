// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultWatchDebounce is how long the file must be quiet before a reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// ReloadFunc receives every configuration that loaded and validated successfully.
type ReloadFunc func(cfg *Config)

// Watcher reloads a configuration file when it changes on disk.
//
// The file's directory is watched rather than the file itself, so editors that
// save by renaming a temporary file over the original are picked up.
// A file that fails to load or validate is logged and the previous
// configuration stays in effect.
type Watcher struct {
	path     string
	onReload ReloadFunc
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending time.Time // last relevant event, zero if none

	ctx     context.Context
	cancel  context.CancelFunc
	started sync.Once
	done    chan struct{}
}

// NewWatcher creates a watcher for path. debounce <= 0 uses DefaultWatchDebounce.
func NewWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     abs,
		onReload: onReload,
		debounce: debounce,
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing file events in the background.
func (w *Watcher) Start() {
	w.started.Do(func() {
		go w.run()
		log.Printf("CONFIG_WATCH | path=%s", w.path)
	})
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	// a watcher that never started has no loop to wait for
	w.started.Do(func() { close(w.done) })

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
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
			log.Printf("CONFIG_WATCH_ERROR | path=%s error=%v", w.path, err)

		case <-ticker.C:
			if w.due() {
				w.reload()
			}
		}
	}
}

// due reports whether a pending change has been quiet for the debounce period.
func (w *Watcher) due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		return false
	}
	w.pending = time.Time{}
	return true
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", w.path, err)
		return
	}
	log.Printf("CONFIG_RELOADED | path=%s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
