package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchDelay debounces bursts of file events, e.g. an editor writing a
// temporary file and renaming it over the input.
const WatchDelay = 500 * time.Millisecond

// Watch reports changes of a desired-state source on the returned channel
// until ctx is done. A file input is watched through its directory so that
// atomic renames are seen; a directory input reports changes of any source
// file inside it. Bursts are coalesced and the channel never blocks the
// watcher: a pending notification absorbs later ones.
func Watch(ctx context.Context, path string, logger zerolog.Logger) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	relevant := func(name string) bool {
		if !info.IsDir() {
			return filepath.Clean(name) == abs
		}
		_, err := DetectFormat(name, false)
		return err == nil
	}

	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !relevant(event.Name) {
					continue
				}
				logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Input changed")
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(WatchDelay, notify)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	return changes, nil
}
