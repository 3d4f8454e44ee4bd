package calllog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepo keeps entries in process. Useful for tests and for running the
// relay without Postgres.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.ID == e.ID {
			return fmt.Errorf("calllog: duplicate id %s", e.ID)
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) FinishLatest(ctx context.Context, identity string, status Status, at time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, e := range r.entries {
		if e.Status != StatusOngoing || !e.Involves(identity) {
			continue
		}
		if idx < 0 || !e.StartTime.Before(r.entries[idx].StartTime) {
			idx = i
		}
	}
	if idx < 0 {
		return Entry{}, ErrNotFound
	}
	return r.finishAt(idx, status, at)
}

func (r *MemoryRepo) FinishByID(ctx context.Context, id string, status Status, at time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID == id {
			return r.finishAt(i, status, at)
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) finishAt(i int, status Status, at time.Time) (Entry, error) {
	e := r.entries[i]
	if err := e.Finish(status, at); err != nil {
		return Entry{}, err
	}
	r.entries[i] = e
	return e, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, e := range r.entries {
		out[e.Status]++
	}
	return out, nil
}

func (r *MemoryRepo) CountStarted(ctx context.Context, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.StartTime.Before(from) && e.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CountByDay(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[time.Time]int{}
	for _, e := range r.entries {
		if e.StartTime.Before(from) || !e.StartTime.Before(to) {
			continue
		}
		counts[startOfDay(e.StartTime.UTC())]++
	}
	out := make([]DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayCount{Day: day, Count: n})
	}
	return out, nil
}

// Entries returns a copy of all rows in insertion order.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
