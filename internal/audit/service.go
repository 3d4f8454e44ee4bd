package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.Actor == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogInvite records an invite that reached its target.
func (s *Service) LogInvite(ctx context.Context, actor, peer, handle, kind string) error {
	return s.Append(ctx, Event{Type: EventTypeInvite, Actor: actor, Peer: peer, Handle: handle, CallKind: kind})
}

// LogReject records the target declining a ringing call.
func (s *Service) LogReject(ctx context.Context, actor, peer, handle string) error {
	return s.Append(ctx, Event{Type: EventTypeReject, Actor: actor, Peer: peer, Handle: handle})
}

// LogCancel records a call ended before it was answered.
func (s *Service) LogCancel(ctx context.Context, actor, peer, handle string) error {
	return s.Append(ctx, Event{Type: EventTypeCancel, Actor: actor, Peer: peer, Handle: handle})
}

// LogSuperseded records an unanswered invite replaced by a newer one.
func (s *Service) LogSuperseded(ctx context.Context, actor, peer, handle string) error {
	return s.Append(ctx, Event{Type: EventTypeSuperseded, Actor: actor, Peer: peer, Handle: handle})
}

// LogDropped records an inbound event the relay did not deliver.
func (s *Service) LogDropped(ctx context.Context, actor, handle, event, reason string) error {
	return s.Append(ctx, Event{Type: EventTypeDropped, Actor: actor, Handle: handle, Reason: event + ": " + reason})
}
