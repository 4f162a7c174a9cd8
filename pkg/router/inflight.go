package router

import (
	"context"
	"sync"
)

// inflight tracks task creations that have not finished yet, keyed by the
// message id that triggered them.
type inflight struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newInflight() *inflight {
	return &inflight{pending: make(map[string]chan struct{})}
}

// begin marks id as in flight. The returned func ends it and is safe to call
// more than once.
func (f *inflight) begin(id string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.pending[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.pending[id] == ch {
				delete(f.pending, id)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// wait blocks until the creation for id finishes or ctx ends. It returns
// immediately when nothing is in flight for id.
func (f *inflight) wait(ctx context.Context, id string) error {
	f.mu.Lock()
	ch, ok := f.pending[id]
	f.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
