// Package dedupe suppresses redelivered events by remembering the most recent
// message ids.
package dedupe

import "sync"

// DefaultSize is used when NewWindow is given a non-positive size.
const DefaultSize = 10

// Window remembers the last size ids it observed. The oldest id is forgotten
// first once the window is full.
type Window struct {
	mu    sync.Mutex
	size  int
	order []string
	seen  map[string]struct{}
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{
		size:  size,
		order: make([]string, 0, size),
		seen:  make(map[string]struct{}, size),
	}
}

// Seen reports whether id is currently remembered.
func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.seen[id]
	return ok
}

// Observe records id and reports whether it was new. Checking and recording
// happen under one lock, so of two concurrent deliveries only one is fresh.
func (w *Window) Observe(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return false
	}
	if len(w.order) == w.size {
		delete(w.seen, w.order[0])
		w.order = append(w.order[:0], w.order[1:]...)
	}
	w.order = append(w.order, id)
	w.seen[id] = struct{}{}
	return true
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
