package predictor

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 250 * time.Millisecond

// modelWatcher reloads the service when the model file is rewritten.
// The parent directory is watched because the trainer replaces the file by rename.
type modelWatcher struct {
	service  *Service
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	pendingMu sync.Mutex
	pending   bool

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

func newModelWatcher(s *Service, path string, debounce time.Duration) (*modelWatcher, error) {
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &modelWatcher{
		service:  s,
		path:     filepath.Clean(path),
		watcher:  fsw,
		debounce: debounce,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	s.logger.Info("watching model file", zap.String("path", w.path), zap.Duration("debounce", debounce))
	return w, nil
}

func (w *modelWatcher) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.pendingMu.Lock()
				w.pending = true
				w.pendingMu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.service.logger.Error("model watcher error", zap.Error(err))

		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reloads at most once per tick, after writes have settled.
func (w *modelWatcher) flush() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if pending {
		_ = w.service.Reload()
	}
}

func (w *modelWatcher) stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		<-w.stopped
	})
	return err
}
