// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smartqueue/smartqueue/internal/log"
)

// Holder provides atomic, concurrency-safe access to the admission
// controller's configuration, with optional hot reload from a YAML
// file. Reads never block on a reload in progress.
type Holder struct {
	reloadOpMu sync.Mutex
	snapshot   atomic.Pointer[Resolved]
	path       string
	dir        string
	file       string
	watcher    *fsnotify.Watcher

	listenMu  sync.RWMutex
	listeners []chan<- Resolved
}

// NewHolder constructs a Holder seeded with initial.
func NewHolder(initial Resolved, path string) *Holder {
	h := &Holder{path: path}
	h.snapshot.Store(&initial)
	return h
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() Resolved {
	if s := h.snapshot.Load(); s != nil {
		return *s
	}
	return Defaults()
}

// Reload re-reads the config file and, if it parses and validates,
// atomically swaps it in. On any failure the previous configuration is
// kept unchanged and the error is returned.
func (h *Holder) Reload() error {
	h.reloadOpMu.Lock()
	defer h.reloadOpMu.Unlock()

	logger := log.WithComponent("config")

	next, err := Load(h.path)
	if err != nil {
		logger.Error().Err(err).Str("event", "config.reload_failed").Msg("keeping previous configuration")
		return fmt.Errorf("config: reload: %w", err)
	}

	prev := h.Get()
	h.snapshot.Store(&next)
	h.notify(next)

	logger.Info().
		Str("event", "config.reload_success").
		Int("old_max_queue_size", prev.MaxQueueSize).
		Int("new_max_queue_size", next.MaxQueueSize).
		Int("old_max_concurrent", prev.MaxConcurrentRequests).
		Int("new_max_concurrent", next.MaxConcurrentRequests).
		Msg("configuration reloaded")
	return nil
}

// RegisterListener registers ch to receive the new Resolved config on
// every successful reload. Sends are non-blocking; a full channel drops
// the notification rather than stalling the reloader.
func (h *Holder) RegisterListener(ch chan<- Resolved) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg Resolved) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()

	logger := log.WithComponent("config")
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			logger.Warn().Str("event", "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// Watch starts watching the config file's directory for atomic
// replace-writes (tmp+rename, as used by renameio) and debounces bursts
// of events into a single Reload. It is a no-op if the holder has no
// path (config supplied programmatically only). The watcher stops when
// ctx is cancelled.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	h.watcher = watcher
	h.dir = filepath.Dir(h.path)
	h.file = filepath.Base(h.path)

	if err := watcher.Add(h.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch dir: %w", err)
	}

	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	logger := log.WithComponent("config")

	const debounce = 300 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return

		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != h.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := h.Reload(); err != nil {
					logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic reload failed")
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}
