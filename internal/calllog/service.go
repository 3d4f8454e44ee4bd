package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for ledger entries. Close operations
// must be atomic per entry: the read of an ongoing row and its terminal update
// cannot interleave with another close of the same row.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)

	// FinishLatest finishes the most recently started ongoing entry that
	// involves identity.
	FinishLatest(ctx context.Context, identity string, status Status, at time.Time) (Entry, error)
	FinishByID(ctx context.Context, id string, status Status, at time.Time) (Entry, error)

	CountByStatus(ctx context.Context) (map[Status]int, error)
	CountStarted(ctx context.Context, from, to time.Time) (int, error)
	CountByDay(ctx context.Context, from, to time.Time) ([]DayCount, error)
}

type Service struct {
	repo Repository
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Option func(*Service)

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errNoRepo = errors.New("calllog: repository not configured")

// Open records the start of an accepted call.
func (s *Service) Open(ctx context.Context, caller, receiver string) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errNoRepo
	}
	if caller == "" {
		return Entry{}, fmt.Errorf("%w: caller required", ErrInvalidArgument)
	}
	e := Entry{
		ID:        uuid.NewString(),
		Caller:    caller,
		Receiver:  receiver,
		StartTime: s.clock().UTC(),
		Status:    StatusOngoing,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("calllog: open: %w", err)
	}
	return e, nil
}

// Close completes the most recent ongoing entry involving identity. It
// returns ErrNotFound when there is nothing to close; callers treat that as
// informational.
func (s *Service) Close(ctx context.Context, identity string) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errNoRepo
	}
	if identity == "" {
		return Entry{}, fmt.Errorf("%w: identity required", ErrInvalidArgument)
	}
	return s.repo.FinishLatest(ctx, identity, StatusCompleted, s.clock())
}

// CloseByID completes a specific entry.
func (s *Service) CloseByID(ctx context.Context, id string) (Entry, error) {
	return s.Finish(ctx, id, StatusCompleted)
}

// Finish moves a specific entry to any terminal status.
func (s *Service) Finish(ctx context.Context, id string, status Status) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errNoRepo
	}
	if id == "" {
		return Entry{}, fmt.Errorf("%w: id required", ErrInvalidArgument)
	}
	return s.repo.FinishByID(ctx, id, status, s.clock())
}

func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	if s.repo == nil {
		return Entry{}, errNoRepo
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	if s.repo == nil {
		return nil, errNoRepo
	}
	return s.repo.CountByStatus(ctx)
}

// CountToday counts calls started since the current UTC midnight.
func (s *Service) CountToday(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, errNoRepo
	}
	now := s.clock().UTC()
	start := startOfDay(now)
	return s.repo.CountStarted(ctx, start, start.Add(24*time.Hour))
}

// CountByDay returns one row per UTC day for the last days days, oldest
// first, including days without calls.
func (s *Service) CountByDay(ctx context.Context, days int) ([]DayCount, error) {
	if s.repo == nil {
		return nil, errNoRepo
	}
	if days <= 0 || days > 366 {
		return nil, fmt.Errorf("%w: days must be in 1..366, got %d", ErrInvalidArgument, days)
	}
	end := startOfDay(s.clock().UTC()).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -days)

	rows, err := s.repo.CountByDay(ctx, start, end)
	if err != nil {
		return nil, err
	}
	byDay := make(map[time.Time]int, len(rows))
	for _, r := range rows {
		byDay[startOfDay(r.Day.UTC())] += r.Count
	}
	out := make([]DayCount, 0, days)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, DayCount{Day: d, Count: byDay[d]})
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
