package storage

import (
	"context"
	"sync"

	"github.com/R3E-Network/formrelay/internal/form"
)

// MemoryStore keeps the document in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	doc     Document
	appends int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: make(Document)}
}

// Load returns a copy of the document.
func (s *MemoryStore) Load(_ context.Context) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Document, len(s.doc))
	for ts, sub := range s.doc {
		out[ts] = sub.Clone()
	}
	return out, nil
}

// Append stores a copy of sub at timestamp.
func (s *MemoryStore) Append(_ context.Context, timestamp string, sub form.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc[timestamp] = sub.Clone()
	s.appends++
	return nil
}

// Appends returns how many Append calls succeeded.
func (s *MemoryStore) Appends() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appends
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
