package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config whenever the file changes and hands the new
// value to onChange. Editors that replace the file (rename) are
// handled by re-adding the watch. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				schedule()
			}
			if event.Op.Has(fsnotify.Rename) || event.Op.Has(fsnotify.Remove) {
				// Atomic saves replace the inode; re-arm the watch.
				_ = watcher.Remove(path)
				if err := watcher.Add(path); err == nil {
					schedule()
				}
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)
		}
	}
}
