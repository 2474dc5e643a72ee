package eod

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days, ok := s.records[rec.AccountID]
	if !ok {
		days = make(map[string]Record)
		s.records[rec.AccountID] = days
	}
	if prev, ok := days[rec.Day.String()]; ok {
		rec.ID = prev.ID
	}
	days[rec.Day.String()] = rec
	return rec, nil
}

func (s *MemoryStore) MarkStale(_ context.Context, accountID string, from Day) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, rec := range s.records[accountID] {
		if !rec.Day.Before(from.Time) {
			rec.Status = Stale
			s.records[accountID][key] = rec
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Range(_ context.Context, accountID string, from, to Day) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.records[accountID] {
		if !from.IsZero() && rec.Day.Before(from.Time) {
			continue
		}
		if !to.IsZero() && rec.Day.After(to.Time) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day.Time) })
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, accountID string, limit int) ([]Record, error) {
	all, err := s.Range(ctx, accountID, Day{}, Day{})
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Record, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
