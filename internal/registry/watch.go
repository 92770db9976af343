package registry

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounces filesystem change events across the registry's
// template directories and reloads affected files after a 1-second
// debounce window.
type Watcher struct {
	registry *Registry
	fsw      *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
}

// NewWatcher builds a Watcher over every directory r has Load'ed so far.
func NewWatcher(r *Registry, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	dirs := append([]string(nil), r.dirs...)
	r.mu.RUnlock()

	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{registry: r, fsw: fsw, debounce: debounce, done: make(chan struct{})}, nil
}

// Run consumes fsnotify events until Stop is called, debouncing bursts of
// events for the same path into a single reload with a timer reset per
// event rather than a fixed-rate tick.
func (w *Watcher) Run() {
	pending := make(map[string]*time.Timer)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			path := ev.Name
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				w.handle(ev)
			})
		case <-w.fsw.Errors:
			// Surfaced via logging in a production wiring; swallowed here to
			// keep the watcher loop alive regardless of transient fsnotify
			// errors.
		case <-w.done:
			for _, t := range pending {
				t.Stop()
			}
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		if id, version, ok := w.registry.KeyForPath(ev.Name); ok {
			w.registry.Remove(id, version)
		}
		return
	}
	if id, version, ok := w.registry.KeyForPath(ev.Name); ok {
		_ = w.registry.Reload(id, version)
		return
	}
	_ = w.registry.loadFile(ev.Name)
}

// Stop terminates the watcher's event loop.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

func isTemplateFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
