package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CompletionWatcher waits for one exact marker file to appear in the output
// directory and then calls onComplete exactly once.
type CompletionWatcher struct {
	dir        string
	markerName string
	onComplete func()
	logger     *slog.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	fired     sync.Once
	closeOnce sync.Once
}

// NewCompletionWatcher arms a watch on dir for markerName. If the marker is
// already present once the watch is armed, onComplete runs immediately.
func NewCompletionWatcher(dir, markerName string, onComplete func(), logger *slog.Logger) (*CompletionWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if markerName == "" || markerName != filepath.Base(markerName) {
		return nil, fmt.Errorf("invalid marker name %q", markerName)
	}
	if onComplete == nil {
		onComplete = func() {}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &CompletionWatcher{
		dir:        dir,
		markerName: markerName,
		onComplete: onComplete,
		logger:     logger,
		fsw:        fsw,
		done:       make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	if _, err := os.Stat(filepath.Join(dir, markerName)); err == nil {
		w.logger.Debug("marker already present", "marker", markerName)
		w.fire()
	} else if !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("marker stat failed", "marker", markerName, "error", err)
	}

	return w, nil
}

// MarkerPath returns the absolute location of the awaited marker.
func (w *CompletionWatcher) MarkerPath() string {
	return filepath.Join(w.dir, w.markerName)
}

// Close releases the underlying watch. It is safe to call more than once.
func (w *CompletionWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *CompletionWatcher) fire() {
	w.fired.Do(w.onComplete)
}

func (w *CompletionWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// A file renamed into the directory is reported as Create for its
			// new name.
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if filepath.Base(ev.Name) != w.markerName {
				continue
			}
			w.logger.Debug("marker observed", "marker", w.markerName, "op", ev.Op.String())
			w.fire()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("completion watcher error", "dir", w.dir, "error", err)
		}
	}
}
