package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-relay/internal/calllog"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

const (
	DefaultDays = 7
	MaxDays     = 90
)

// LedgerReader is the read side of the call ledger.
type LedgerReader interface {
	CountByStatus(ctx context.Context) (map[calllog.Status]int, error)
	CountToday(ctx context.Context) (int, error)
	CountByDay(ctx context.Context, days int) ([]calllog.DayCount, error)
}

type PresenceReader interface {
	OnlineCount() int
}

type Service struct {
	ledger   LedgerReader
	presence PresenceReader
	clock    func() time.Time
}

func NewService(ledger LedgerReader, presence PresenceReader) *Service {
	return &Service{ledger: ledger, presence: presence, clock: time.Now}
}

func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	if s.ledger == nil || s.presence == nil {
		return DashboardStats{}, errors.New("reporting: sources not configured")
	}

	byStatus, err := s.ledger.CountByStatus(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("reporting: count by status: %w", err)
	}
	today, err := s.ledger.CountToday(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("reporting: count today: %w", err)
	}

	out := DashboardStats{
		OnlineUsers: s.presence.OnlineCount(),
		CallsToday:  today,
		ActiveCalls: byStatus[calllog.StatusOngoing],
		ByStatus:    make(map[string]int, 4),
		GeneratedAt: s.clock().UTC(),
	}
	for _, st := range []calllog.Status{calllog.StatusOngoing, calllog.StatusCompleted, calllog.StatusMissed, calllog.StatusRejected} {
		out.ByStatus[string(st)] = byStatus[st]
	}
	return out, nil
}

// DailyCalls reports calls started per UTC day, oldest first. days <= 0
// selects DefaultDays.
func (s *Service) DailyCalls(ctx context.Context, days int) (DailyCallsReport, error) {
	if days <= 0 {
		days = DefaultDays
	}
	if days > MaxDays {
		return DailyCallsReport{}, fmt.Errorf("%w: days must be at most %d", ErrInvalidRequest, MaxDays)
	}
	if s.ledger == nil {
		return DailyCallsReport{}, errors.New("reporting: sources not configured")
	}

	rows, err := s.ledger.CountByDay(ctx, days)
	if err != nil {
		return DailyCallsReport{}, fmt.Errorf("reporting: count by day: %w", err)
	}
	out := DailyCallsReport{Days: make([]DailyCalls, 0, len(rows))}
	for _, r := range rows {
		out.Days = append(out.Days, DailyCalls{Day: r.Day.UTC().Format("2006-01-02"), Count: r.Count})
		out.Total += r.Count
	}
	return out, nil
}
