package chat

import (
	"context"
	"sync"
)

// SlotStore is the durable single-slot storage for the persisted session id.
// It holds at most one id; Put replaces any previous value atomically.
type SlotStore interface {
	Get(ctx context.Context) (string, bool, error)
	Put(ctx context.Context, sessionID string) error
	Delete(ctx context.Context) error
}

// MemorySlotStore is the in-memory SlotStore used in tests.
type MemorySlotStore struct {
	mu  sync.Mutex
	id  string
	set bool
}

var _ SlotStore = &MemorySlotStore{}

func NewMemorySlotStore() *MemorySlotStore { return &MemorySlotStore{} }

func (s *MemorySlotStore) Get(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.set, nil
}

func (s *MemorySlotStore) Put(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = sessionID
	s.set = true
	return nil
}

func (s *MemorySlotStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.set = false
	return nil
}
