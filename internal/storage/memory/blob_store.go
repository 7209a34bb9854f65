// Package memory keeps downloaded artifacts in memory. It backs dry runs,
// where every download is exercised but nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// Sink stores artifacts in-memory and returns memory:// URIs.
type Sink struct {
	ext string

	mu    sync.RWMutex
	terms map[string]struct{}
	data  map[string][]byte
}

// New creates an empty in-memory sink.
func New() *Sink {
	return &Sink{
		ext:   ".jpg",
		terms: make(map[string]struct{}),
		data:  make(map[string][]byte),
	}
}

// EnsureDirectory registers the term.
func (s *Sink) EnsureDirectory(_ context.Context, term string) error {
	if err := harvest.ValidateName(term); err != nil {
		return &harvest.StorageError{Kind: harvest.StorageMkdir, Term: term, Err: err}
	}
	s.mu.Lock()
	s.terms[term] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Write copies data under {term}/{id}.jpg. Writing the same key twice keeps
// the last payload.
func (s *Sink) Write(ctx context.Context, term, id string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Err: err}
	}
	if err := harvest.ValidateName(id); err != nil {
		return "", &harvest.StorageError{Kind: harvest.StorageWrite, Term: term, Err: fmt.Errorf("invalid id %q: %w", id, err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terms[term]; !ok {
		return "", &harvest.StorageError{
			Kind: harvest.StorageWrite,
			Term: term,
			Err:  fmt.Errorf("term %q has no directory", term),
		}
	}
	key := path.Join(term, id+s.ext)
	s.data[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

// Get returns a copy of the stored payload for key ({term}/{id}.jpg).
func (s *Sink) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists stored keys in sorted order.
func (s *Sink) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
