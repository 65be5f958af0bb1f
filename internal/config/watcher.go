package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single config file for writes and invokes registered
// callbacks. It is not used for automatic hot-reload (redishard reloads
// only on an explicit admin LOADCONFIG/SWITCHCONFIG) but backs a
// `redishard validate --watch` developer workflow and is exercised
// directly by tests.
type Watcher struct {
	w         *fsnotify.Watcher
	mu        sync.Mutex
	callbacks []func()
	done      chan struct{}
}

// NewWatcher creates a Watcher with no files registered yet.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{w: fw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// Watch begins watching path; OnChange callbacks fire on every write event.
func (w *Watcher) Watch(path string) error {
	return w.w.Add(path)
}

// OnChange registers a callback invoked (from the watcher's goroutine)
// whenever a watched file is written.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			cbs := append([]func(){}, w.callbacks...)
			w.mu.Unlock()
			for _, cb := range cbs {
				cb()
			}
		case _, ok := <-w.w.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fd.
func (w *Watcher) Close() error {
	close(w.done)
	return w.w.Close()
}
