package calllog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("calllog: not found")
	ErrInvalidTransition = errors.New("calllog: invalid status transition")
	ErrInvalidArgument   = errors.New("calllog: invalid argument")
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusRejected:
		return true
	default:
		return false
	}
}

// Entry is the durable record of one accepted call.
//
// Invariants:
//   - Status moves only from ongoing to a terminal status, never back
//   - EndTime is set exactly once, by the transition that sets a terminal status
//   - Receiver may be empty when the answering party could not be determined
type Entry struct {
	ID       string `json:"id" db:"id"`
	Caller   string `json:"caller" db:"caller"`
	Receiver string `json:"receiver" db:"receiver"`

	StartTime time.Time  `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime" db:"end_time"`

	// DurationSeconds is whole seconds between start and end, never negative.
	DurationSeconds int    `json:"durationSeconds" db:"duration_seconds"`
	Status          Status `json:"status" db:"status"`
}

// Involves reports whether identity took part in the call.
func (e Entry) Involves(identity string) bool {
	return identity != "" && (e.Caller == identity || e.Receiver == identity)
}

// Finish moves an ongoing entry to a terminal status at the given time.
func (e *Entry) Finish(status Status, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidTransition, status)
	}
	if e.Status != StatusOngoing || e.EndTime != nil {
		return fmt.Errorf("%w: entry %s is %s", ErrInvalidTransition, e.ID, e.Status)
	}
	end := at.UTC()
	e.EndTime = &end
	e.DurationSeconds = durationSeconds(e.StartTime, end)
	e.Status = status
	return nil
}

func durationSeconds(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// DayCount is the number of calls started on one UTC day.
type DayCount struct {
	Day   time.Time `json:"day" db:"day"`
	Count int       `json:"count" db:"count"`
}
