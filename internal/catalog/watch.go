package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever its file is written or replaced, until
// ctx is cancelled. The parent directory is watched so editors that save via
// rename are picked up. onReload, when set, runs after every attempt.
func (c *Catalog) Watch(ctx context.Context, onReload func(error)) error {
	if c.path == "" {
		return fmt.Errorf("catalog: not file backed")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("catalog watch %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

	go func() {
		defer w.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				debounce = time.After(reloadDebounce)

			case <-debounce:
				debounce = nil
				err := c.Reload()
				if err != nil {
					log.Warn().Err(err).Str("path", c.path).Msg("Catalog reload failed, keeping previous contents")
				}
				if onReload != nil {
					onReload(err)
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Catalog watcher error")
			}
		}
	}()

	log.Info().Str("path", c.path).Msg("👀 Watching catalog for changes")
	return nil
}
