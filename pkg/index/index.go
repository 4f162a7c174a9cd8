// Package index keeps the durable mapping from chat message ids to external
// task ids.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyLinked is returned by Put when the message id already has a task.
	ErrAlreadyLinked = errors.New("message already linked")
	// ErrPersistence wraps every failure to read or write the backing store.
	ErrPersistence = errors.New("persistence failed")
)

// Persister loads and saves the full mapping in one piece.
type Persister interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, links map[string]string) error
	Close() error
}

// Store is the in-memory mapping backed by a Persister. Every mutation writes
// the full mapping through.
type Store struct {
	mu    sync.RWMutex
	links map[string]string
	dirty bool

	// saveMu serialises writes so an older snapshot never lands after a newer one.
	saveMu sync.Mutex
	p      Persister
	log    zerolog.Logger
}

// Open loads the persisted mapping. Missing or unreadable state is logged and
// the store starts empty.
func Open(ctx context.Context, p Persister, log zerolog.Logger) *Store {
	s := &Store{
		links: make(map[string]string),
		p:     p,
		log:   log.With().Str("component", "index").Logger(),
	}

	loaded, err := p.Load(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not load links, starting empty")
		return s
	}
	s.merge(loaded)
	s.log.Info().Int("links", len(s.links)).Msg("links loaded")
	return s
}

// merge adds loaded entries without replacing ones already in memory.
func (s *Store) merge(loaded map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, taskID := range loaded {
		if _, exists := s.links[id]; !exists {
			s.links[id] = taskID
		}
	}
}

// Get returns the task linked to a message id.
func (s *Store) Get(messageID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taskID, ok := s.links[messageID]
	return taskID, ok
}

// Put links a message id to a task id and waits for the write. The link stays
// in memory even when the write fails; the error then wraps ErrPersistence
// and a later Flush retries.
func (s *Store) Put(ctx context.Context, messageID, taskID string) error {
	s.mu.Lock()
	if _, exists := s.links[messageID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLinked, messageID)
	}
	s.links[messageID] = taskID
	s.dirty = true
	s.mu.Unlock()

	return s.save(ctx)
}

// Remove drops a link and writes the mapping. Unknown ids are a no-op.
func (s *Store) Remove(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if _, exists := s.links[messageID]; !exists {
		s.mu.Unlock()
		return nil
	}
	delete(s.links, messageID)
	s.dirty = true
	s.mu.Unlock()

	return s.save(ctx)
}

// Flush writes the mapping if an earlier write failed.
func (s *Store) Flush(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	return s.save(ctx)
}

// Dirty reports whether memory holds changes the persister has not accepted.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Snapshot returns a copy of the mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.links))
	for k, v := range s.links {
		out[k] = v
	}
	return out
}

// Close releases the persister.
func (s *Store) Close() error {
	return s.p.Close()
}

func (s *Store) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// Another writer may have saved our change already.
	if !s.Dirty() {
		return nil
	}

	s.mu.Lock()
	snapshot := make(map[string]string, len(s.links))
	for k, v := range s.links {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.p.Save(ctx, snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		s.log.Error().Err(err).Int("links", len(snapshot)).Msg("failed to save links")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
