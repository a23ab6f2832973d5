package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher calls reloadFn when any of the watched files changes. Parent
// directories are watched so that editors replacing a file by rename are
// noticed too.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	watcher  *fsnotify.Watcher
	reloadFn func() error
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher creates a new file watcher
func NewWatcher(reloadFn func() error, files ...string) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]bool, len(files)),
		watcher:  fsw,
		reloadFn: reloadFn,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}

	seenDirs := make(map[string]bool)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			fsw.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("failed to resolve %s: %w", file, err)
		}
		w.files[abs] = true

		dir := filepath.Dir(abs)
		if !seenDirs[dir] {
			seenDirs[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	return w, nil
}

// SetDebounce changes the quiet period before a reload
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching for file changes
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	go w.watch()

	for file := range w.files {
		observability.Info("Watching file for changes", zap.String("path", file))
	}
	return nil
}

// watch monitors for file system events
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			observability.Debug("Watched file changed",
				zap.String("path", event.Name), zap.String("op", event.Op.String()))
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			observability.Warn("Watcher error", zap.Error(err))
		}
	}
}

// scheduleReload schedules a reload with debouncing
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.reloadFn(); err != nil {
			observability.Error("Reload failed, keeping previous configuration", zap.Error(err))
		}
	})
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
