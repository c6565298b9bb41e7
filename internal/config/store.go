package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store holds the classifier config that new runs pick up. Runs already in flight keep
// the pointer they loaded.
type Store struct {
	current atomic.Pointer[ClassifierConfig]
}

// NewStore validates cfg and makes it current.
func NewStore(cfg *ClassifierConfig) (*Store, error) {
	s := &Store{}
	if err := s.Swap(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the current config. Callers must not modify it.
func (s *Store) Load() *ClassifierConfig {
	return s.current.Load()
}

// Swap validates cfg and replaces the current config.
func (s *Store) Swap(cfg *ClassifierConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

// Watcher reloads the classifier config file into a Store when it changes on disk.
type Watcher struct {
	path     string
	store    *Store
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	reloads int
}

// NewWatcher prepares a watcher for path. The directory is watched so editors that replace
// the file by rename are still seen.
func NewWatcher(path string, store *Store, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logger.Named("config_watcher"),
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true
	go w.run(ctx)
	w.logger.Info("watching classifier config", zap.String("path", w.path))
	return nil
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("close file watcher", zap.Error(err))
	}
}

// Reloads returns how many times a new config was swapped in.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadClassifier(w.path)
	if err != nil {
		w.logger.Warn("classifier config rejected, keeping previous", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.store.Swap(cfg); err != nil {
		w.logger.Warn("classifier config rejected, keeping previous", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Info("classifier config reloaded", zap.String("path", w.path), zap.Int("rules", len(cfg.Rules)))
}
