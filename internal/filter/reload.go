package filter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/sniffer/internal/logging"
)

// reloadDebounce is how long the reloader waits after the last write.
const reloadDebounce = 500 * time.Millisecond

// LoadFunc rebuilds the filter from its source of truth.
type LoadFunc func() (*Filter, error)

// Reloader watches a config file and swaps a freshly loaded filter into a
// Holder when the file changes.
type Reloader struct {
	watcher *fsnotify.Watcher
	holder  *Holder
	load    LoadFunc
	path    string
	logger  *zap.Logger
}

// NewReloader watches the directory containing path, so editors that
// replace the file by rename are still seen.
func NewReloader(path string, holder *Holder, load LoadFunc, logger *zap.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filter: create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("filter: watch %q: %w", path, err)
	}
	return &Reloader{
		watcher: watcher,
		holder:  holder,
		load:    load,
		path:    filepath.Clean(path),
		logger:  logging.OrNop(logger).Named("reload"),
	}, nil
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (r *Reloader) reload() {
	f, err := r.load()
	if err != nil {
		r.logger.Warn("filter reload failed; keeping previous filter", zap.String("path", r.path), zap.Error(err))
		return
	}
	r.holder.Store(f)
	src := f.Source()
	r.logger.Info("filter reloaded",
		zap.Strings("packages", src.Packages),
		zap.String("filter", src.Expr))
}
