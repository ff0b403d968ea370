package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the write bursts editors and atomic-rename
// saves produce into one reload.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the document at path whenever it changes and hands the
// new config to onChange. A config that fails to load is logged and
// skipped; the previous one stays active. Watch returns once ctx is
// cancelled; the error return covers watcher setup only.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: rename-based saves replace the
	// inode and a file watch would go stale after the first change.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	base := filepath.Base(path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config: watcher error", "err", err)
		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config: reload failed, keeping previous", "path", path, "err", err)
				continue
			}
			log.Info("config: reloaded", "path", path)
			onChange(cfg)
		}
	}
}
