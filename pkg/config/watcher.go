// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"go.opendefense.cloud/lantern/pkg/observability"
)

// DefaultDebounce is the quiet period after the last change before the file
// is loaded again.
const DefaultDebounce = 500 * time.Millisecond

// ErrNoConfigFile is returned when a watcher is started without a path.
var ErrNoConfigFile = errors.New("no config file to watch")

// Watcher watches a configuration file and passes a freshly loaded value to
// its handlers after every change.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	logger   *zap.Logger
	onError  func(error)

	mu       sync.RWMutex
	handlers []func(T)

	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the debounce duration for config changes.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for config load errors.
// If not set, errors are only logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewWatcher creates a watcher for the file at path. loader is called on
// every change, so handlers never see a stale value.
func NewWatcher[T any](path string, loader func(path string) (T, error), logger *zap.Logger, opts ...WatcherOption[T]) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		loader:   loader,
		logger:   logger,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler to be called when config changes.
// Returns an unsubscribe function to remove the handler.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	idx := len(w.handlers) - 1
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.handlers[idx] = nil
	}
}

// Start begins watching. The directory of the file is watched rather than
// the file itself, so editors that replace the file are noticed as well.
// Watching stops when ctx is done; Done is closed afterwards.
func (w *Watcher[T]) Start(ctx context.Context) error {
	if w.path == "." || w.path == "" {
		return ErrNoConfigFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	w.logger.Info("Config watcher started", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	observability.Go(func() { w.watch(ctx, watcher) })
	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher[T]) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher[T]) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(w.done)
	defer func() { _ = watcher.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Config file change detected", zap.String("op", event.Op.String()))

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.loadAndNotify()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher[T]) loadAndNotify() {
	cfg, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load config", zap.Error(err))
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.RLock()
	handlers := make([]func(T), 0, len(w.handlers))
	for _, h := range w.handlers {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	w.mu.RUnlock()

	w.logger.Info("Config file changed, notifying handlers", zap.Int("handlers", len(handlers)))
	for _, handler := range handlers {
		handler(cfg)
	}
}
