package calllog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemStore is a thread-safe in-memory call log.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemStore creates an empty in-memory call log.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) Append(_ context.Context, rec Record) error {
	if rec.CallID == "" {
		return fmt.Errorf("calllog: record call_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CallID] = rec
	return nil
}

func (s *MemStore) Get(_ context.Context, callID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[callID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return rec, nil
}

func (s *MemStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	matched := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.matches(rec) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemStore) Prune(_ context.Context, policy PrunePolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	if !policy.OlderThan.IsZero() {
		for id, rec := range s.records {
			if rec.Timestamp.Before(policy.OlderThan) {
				delete(s.records, id)
				deleted++
			}
		}
	}

	if policy.KeepLatest > 0 {
		byTool := make(map[string][]Record)
		for _, rec := range s.records {
			byTool[rec.ToolName] = append(byTool[rec.ToolName], rec)
		}
		for _, recs := range byTool {
			if len(recs) <= policy.KeepLatest {
				continue
			}
			sortNewestFirst(recs)
			for _, rec := range recs[policy.KeepLatest:] {
				delete(s.records, rec.CallID)
				deleted++
			}
		}
	}
	return deleted, nil
}

func (s *MemStore) Close() error {
	return nil
}

func sortNewestFirst(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.CallID, a.CallID)
	})
}

var _ Store = (*MemStore)(nil)
