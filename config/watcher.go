package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/utils"
)

// DefaultWatchDebounce is how long a config file must stay unchanged before it is re-read.
const DefaultWatchDebounce = 200 * time.Millisecond

// A Watcher re-reads a sensor config file whenever it changes and publishes configs that differ
// from the last one published.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	updates  chan *SensorConfig
	debounce func(func())
	workers  utils.StoppableWorkers
	logger   logging.Logger

	// mu serializes reloads.
	mu   sync.Mutex
	last *SensorConfig
}

// NewWatcher starts watching path. initial is the config already in use and is not published
// again.
func NewWatcher(ctx context.Context, path string, initial *SensorConfig, logger logging.Logger) (*Watcher, error) {
	return newWatcher(ctx, path, initial, DefaultWatchDebounce, logger)
}

func newWatcher(
	ctx context.Context,
	path string,
	initial *SensorConfig,
	wait time.Duration,
	logger logging.Logger,
) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(dir, filepath.Base(absPath))
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so that editors that replace the file are still seen.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		return nil, multierr.Combine(err, fsWatcher.Close())
	}
	w := &Watcher{
		path:     absPath,
		watcher:  fsWatcher,
		updates:  make(chan *SensorConfig),
		debounce: debounce.New(wait),
		logger:   logger,
		last:     initial,
	}
	w.workers = utils.NewStoppableWorkersWithContext(ctx, w.watch)
	return w, nil
}

// Updates delivers each changed config.
func (w *Watcher) Updates() <-chan *SensorConfig {
	return w.updates
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.debounce(func() { w.reload(ctx) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	cfg, err := Read(w.path)
	if err != nil {
		w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	diff := cmp.Diff(w.last, cfg)
	if diff == "" {
		return
	}
	w.logger.Infow("config changed", "path", w.path, "diff", diff)
	w.last = cfg
	select {
	case <-ctx.Done():
	case w.updates <- cfg:
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.watcher.Close()
}
