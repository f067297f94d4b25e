package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the profile directory and triggers a reload callback when
// operator documents change. Rapid successive writes (editors, rsync) are
// debounced into one reload.
type Watcher struct {
	dir      string
	onReload func()
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup

	debounce     time.Duration
	pendingTimer *time.Timer
	timerMu      sync.Mutex
}

// NewWatcher creates a watcher for the given profile directory. onReload is
// invoked from a background goroutine after changes settle.
func NewWatcher(dir string, onReload func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		onReload: onReload,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching. A missing directory is logged, not fatal: the
// operator may create it later and restart watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		log.Warn("cannot watch profile directory %s (may not exist yet): %v", w.dir, err)
		return nil
	}

	w.wg.Add(1)
	go w.run()

	log.Info("watching profile directory: %s", w.dir)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	w.wg.Wait()

	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".yaml") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	log.Debug("profile file changed: %s (%s)", filepath.Base(event.Name), event.Op)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.onReload)
}
