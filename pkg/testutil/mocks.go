// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

// MockRelay records every payload handed to Relay.
type MockRelay struct {
	mu       sync.Mutex
	payloads [][]byte
}

// NewMockRelay creates an empty recording relay.
func NewMockRelay() *MockRelay {
	return &MockRelay{}
}

// Relay records payload.
func (m *MockRelay) Relay(_ context.Context, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, append([]byte(nil), payload...))
}

// Payloads returns a copy of the recorded payloads in arrival order.
func (m *MockRelay) Payloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.payloads))
	copy(out, m.payloads)
	return out
}

// Count returns the number of recorded payloads.
func (m *MockRelay) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// FailingStore is a MemoryStore whose Append always returns Err.
type FailingStore struct {
	storage.MemoryStore
	Err error
}

// NewFailingStore creates a store that fails every append with err.
func NewFailingStore(err error) *FailingStore {
	return &FailingStore{Err: err}
}

// Append returns s.Err without storing anything.
func (s *FailingStore) Append(context.Context, string, form.Submission) error {
	return s.Err
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
