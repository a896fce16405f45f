package persona

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultStability = 100 * time.Millisecond

// watcher reloads the registry when persona files change. Bursts of events
// collapse into one reload after the stability threshold.
type watcher struct {
	fs        *fsnotify.Watcher
	registry  *Registry
	stability time.Duration
	done      chan struct{}
	stopped   chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts reloading on changes to the persona directory. A zero
// stability uses 100ms. Calling Watch again while watching is a no-op.
func (r *Registry) Watch(stability time.Duration) error {
	if r.dir == "" {
		return fmt.Errorf("persona: no directory to watch")
	}

	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(r.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch persona directory: %w", err)
	}
	if stability <= 0 {
		stability = defaultStability
	}

	w := &watcher{
		fs:        fsw,
		registry:  r,
		stability: stability,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	r.watcher = w
	go w.loop()

	r.logger.Info().Str("dir", r.dir).Msg("Persona watcher started")
	return nil
}

// StopWatching stops the watcher started by Watch.
func (r *Registry) StopWatching() error {
	r.watchMu.Lock()
	w := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if w == nil {
		return nil
	}
	close(w.done)
	err := w.fs.Close()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isPersonaFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.registry.logger.Error().Err(err).Msg("Persona watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.stability, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.registry.Load(); err != nil {
			w.registry.logger.Warn().Err(err).Msg("Persona reload finished with errors")
		}
	})
}
