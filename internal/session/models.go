// Package session tracks call attempts between two connections and opens
// and closes the matching ledger entries.
//
// A session is keyed by its caller's connection handle: a connection can run
// at most one outgoing attempt at a time and cannot start or answer a call
// while it is in an accepted call.
package session

import (
	"context"
	"errors"
	"time"

	"call-relay/internal/calllog"
	"call-relay/internal/signal"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrBusy     = errors.New("session: connection is in an accepted call")
)

type Phase string

const (
	PhaseInvited    Phase = "invited"
	PhaseRinging    Phase = "ringing"
	PhaseAccepted   Phase = "accepted"
	PhaseTerminated Phase = "terminated"
)

func (p Phase) Active() bool {
	return p == PhaseInvited || p == PhaseRinging || p == PhaseAccepted
}

// Party is one side of a call as seen when the session was created.
type Party struct {
	Identity string
	Name     string
	Handle   signal.Handle
}

func PartyOf(ep signal.Endpoint) Party {
	return Party{Identity: ep.Identity(), Name: ep.Name(), Handle: ep.Handle()}
}

type Session struct {
	ID     string
	Caller Party
	Target Party
	Kind   signal.CallKind
	Phase  Phase

	CreatedAt  time.Time
	AcceptedAt time.Time

	// LedgerID is set once the ledger entry for an accepted call exists.
	LedgerID string
}

// Involves reports whether h is either side of the session.
func (s Session) Involves(h signal.Handle) bool {
	return s.Caller.Handle == h || s.Target.Handle == h
}

// Peer returns the side opposite h.
func (s Session) Peer(h signal.Handle) Party {
	if s.Caller.Handle == h {
		return s.Target
	}
	return s.Caller
}

// Ledger is the subset of the call ledger the registry drives.
type Ledger interface {
	Open(ctx context.Context, caller, receiver string) (calllog.Entry, error)
	Close(ctx context.Context, identity string) (calllog.Entry, error)
	CloseByID(ctx context.Context, id string) (calllog.Entry, error)
}

// Ended describes a session that reached Terminated. Entry is the ledger row
// closed as part of the transition, if any.
type Ended struct {
	Session Session
	Entry   *calllog.Entry
}
