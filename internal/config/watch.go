package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events an editor or an atomic
// rename produces into one reload.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc is called with the watched path after it changes.
type ReloadFunc func(path string) error

// Watcher reloads one file when it is written or replaced. It watches the
// parent directory so replacements by rename are seen too.
type Watcher struct {
	path     string
	reload   ReloadFunc
	log      zerolog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

func NewWatcher(path string, reload ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watching %q: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watching %q: %w", path, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %q: %w", path, err)
	}

	return &Watcher{
		path:     abs,
		reload:   reload,
		log:      logger.With().Str("component", "config_watcher").Str("path", abs).Logger(),
		debounce: DefaultDebounce,
		watcher:  fw,
	}, nil
}

// Run dispatches reloads until ctx is done. Reload errors are logged and
// the previous configuration stays in force.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watch error")
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(evt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.reload(w.path); err != nil {
				w.log.Error().Err(err).Msg("reload failed")
				continue
			}
			w.log.Info().Msg("reloaded")
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != w.path {
		return false
	}
	return evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create)
}
