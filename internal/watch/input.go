// Package watch observes the input and output directories of the dispatcher.
//
// InputWatcher turns descriptor file creations into events, CompletionWatcher
// waits for a single marker file, and Reader reads a descriptor once its
// producer has finished writing it.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event reports a newly created file in the input directory.
type Event struct {
	Path string
}

// InputWatcher emits an Event for every created file whose base name matches
// the configured glob.
type InputWatcher struct {
	dir     string
	pattern string
	logger  *slog.Logger

	fsw    *fsnotify.Watcher
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewInputWatcher starts watching dir. It fails if dir is missing, is not a
// directory or cannot be watched.
func NewInputWatcher(dir, pattern string, logger *slog.Logger) (*InputWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid input pattern %q: %w", pattern, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input directory %s: not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &InputWatcher{
		dir:     dir,
		pattern: pattern,
		logger:  logger,
		fsw:     fsw,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	logger.Info("watching input directory", "dir", dir, "pattern", pattern)
	return w, nil
}

// Events returns the channel of matching creations. It is closed by Close.
func (w *InputWatcher) Events() <-chan Event {
	return w.events
}

// Dir returns the watched directory.
func (w *InputWatcher) Dir() string {
	return w.dir
}

// Close stops the watcher and closes the events channel. It is safe to call
// more than once.
func (w *InputWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
		w.wg.Wait()
		close(w.events)
	})
	return w.closeErr
}

func (w *InputWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.matches(ev.Name) {
				w.logger.Debug("ignoring non-matching file", "path", ev.Name)
				continue
			}
			select {
			case w.events <- Event{Path: ev.Name}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("input watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *InputWatcher) matches(path string) bool {
	ok, err := filepath.Match(w.pattern, filepath.Base(path))
	return err == nil && ok
}
