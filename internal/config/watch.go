package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events an atomic save
// produces (create, write, rename) into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watch re-reads the config file whenever it changes on disk and delivers
// each successfully parsed revision to apply. Rewrites that parse to the
// same configuration are suppressed, so an editor touching the file without
// changing it does not trigger a spurious reload. A parse or validation
// failure is logged and the previous revision stays in effect.
//
// The watch is placed on the parent directory rather than the file itself:
// atomic saves replace the inode, which would silently detach a file-level
// watch. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	// Baseline for change suppression. A racing edit can make this read
	// fail; the state is then unknown and the next good revision is
	// delivered unconditionally.
	last, err := Load(path)
	if err != nil {
		last = nil
	}

	slog.Info("config: watching for changes", "path", path)

	var debounce *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(reloadDebounce)
			}
			pending = debounce.C

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed — keeping previous revision",
					"path", path, "err", err)
				continue
			}
			if last != nil && reflect.DeepEqual(cfg, last) {
				continue
			}
			last = cfg
			slog.Info("config: reloaded", "path", path)
			apply(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
