package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sdv-edge/dtcore/dtlog"
)

// Watcher re-feeds Settings whenever the config file changes on disk and
// passes the reloaded Settings to its onChange callback; which fields
// take effect without a restart is decided by that callback. It is only
// started when Settings.WatchConfig is true.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	logger    dtlog.Logger
	onChange  func(Settings)
	done      chan struct{}
}

// NewWatcher builds a Watcher that calls onChange with freshly reloaded
// Settings every time the config file is written.
func NewWatcher(logger dtlog.Logger, onChange func(Settings)) (*Watcher, error) {
	if logger == nil {
		logger = dtlog.Nop{}
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	return &Watcher{fsWatcher: fsWatcher, logger: logger, onChange: onChange, done: make(chan struct{})}, nil
}

// Start watches the directory containing the active config file (if any)
// and runs until Stop is called. It returns immediately; watching happens
// on a background goroutine.
func (w *Watcher) Start() error {
	home, err := watchedDir()
	if err != nil {
		return err
	}
	if home == "" {
		w.logger.Debug("config: no file configured, watcher idle")
		return nil
	}
	if err := w.fsWatcher.Add(home); err != nil {
		return fmt.Errorf("config: watch %s: %w", home, err)
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Error("config: reload failed", "error", err)
				continue
			}
			w.logger.Info("config: reloaded", "path", event.Name)
			w.onChange(cfg)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config: watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Stop closes the underlying file watcher.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsWatcher.Close()
}

func watchedDir() (string, error) {
	path := ConfigFilePath()
	if path == "" {
		return "", nil
	}
	return filepath.Dir(path), nil
}
