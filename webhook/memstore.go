package webhook

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a thread-safe in-memory hook store.
type MemStore struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewMemStore creates an in-memory hook store seeded with hooks.
func NewMemStore(hooks ...Hook) (*MemStore, error) {
	s := &MemStore{}
	for _, h := range hooks {
		if _, err := s.Add(context.Background(), h); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemStore) List(_ context.Context) ([]Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.hooks), nil
}

func (s *MemStore) Add(_ context.Context, hook Hook) (Hook, error) {
	hook, err := hook.Normalize()
	if err != nil {
		return Hook{}, err
	}
	if hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
	return hook, nil
}

func (s *MemStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.hooks, func(h Hook) bool { return h.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrHookNotFound, id)
	}
	s.hooks = slices.Delete(s.hooks, idx, idx+1)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

var _ Store = (*MemStore)(nil)
