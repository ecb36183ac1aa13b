package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher republishes a fresh Config snapshot whenever the backing file
// changes, the Go analogue of original_source/lincoln/notifier.py's
// pyinotify-based NotifyCallback. Per spec.md §9's design note, it never
// mutates a Config in place: it publishes immutable snapshots on a
// channel that the supervisor reads only between blocks, so an in-flight
// block commit never observes a torn config.
type Watcher struct {
	path   string
	logger *zap.Logger
	snaps  chan *Config
	w      *fsnotify.Watcher
}

// NewWatcher starts watching path for writes. Snapshots() yields a new
// Config each time the file changes; the caller decides when it's safe
// to apply one.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	watcher := &Watcher{path: path, logger: logger, snaps: make(chan *Config, 1), w: w}
	go watcher.run()
	return watcher, nil
}

func (cw *Watcher) run() {
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(cw.path)
			if err != nil {
				cw.logger.Error("config: reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			select {
			case cw.snaps <- cfg:
			default:
				// Drain the stale pending snapshot before pushing the new
				// one; only the latest reload ever matters.
				select {
				case <-cw.snaps:
				default:
				}
				cw.snaps <- cfg
			}
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config: watcher error", zap.Error(err))
		}
	}
}

// Snapshots yields a new Config every time the watched file changes.
func (cw *Watcher) Snapshots() <-chan *Config {
	return cw.snaps
}

func (cw *Watcher) Close() error {
	return cw.w.Close()
}
