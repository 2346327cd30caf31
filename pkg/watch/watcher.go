// Package watch triggers a callback when watched files or directories
// change. Bursts of events are collapsed into a single call.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet period after the last event before the callback
// runs.
const DefaultDelay = 500 * time.Millisecond

// Watcher watches paths and calls a function after they change.
type Watcher struct {
	logger zerolog.Logger
	delay  time.Duration

	// Filter selects the events that count as changes. Nil accepts every
	// write, create, remove and rename.
	Filter func(event fsnotify.Event) bool

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
}

// New creates a watcher. A zero delay uses DefaultDelay.
func New(logger zerolog.Logger, delay time.Duration) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Watcher{
		logger: logger.With().Str("component", "watcher").Logger(),
		delay:  delay,
	}
}

// Run watches paths until ctx is done, calling fn once per burst of
// changes. Calls to fn never overlap; changes that arrive while fn runs
// schedule one more call. Directories are watched recursively. Paths that
// do not exist yet are skipped with a warning.
func (w *Watcher) Run(ctx context.Context, paths []string, fn func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = w.watchDirectory(path)
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("none of the paths could be watched")
	}

	w.logger.Info().Int("paths", watched).Msg("Started watching")
	w.processEvents(ctx, fn)
	return nil
}

// watchDirectory adds a directory and its subdirectories to the watcher.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) accept(event fsnotify.Event) bool {
	if w.Filter != nil {
		return w.Filter(event)
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

// processEvents debounces file system events into calls to fn.
func (w *Watcher) processEvents(ctx context.Context, fn func(context.Context) error) {
	var timer *time.Timer
	pending := make(chan struct{}, 1)
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := func() {
		select {
		case pending <- struct{}{}:
		default:
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pending:
				w.setRunning(true)
				if err := fn(ctx); err != nil {
					w.logger.Error().Err(err).Msg("Change handler failed")
				}
				w.setRunning(false)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.accept(event) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Watched path changed")

			// New directories under a watched tree are watched too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchDirectory(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.delay, trigger)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

// Busy reports whether the callback is running.
func (w *Watcher) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
