package audit

import "time"

// Event is an immutable, append-only record of a call attempt outcome that
// the ledger does not capture: invites, rejects, cancels and dropped events.
//
// Invariants:
// - Events are never updated or deleted.
// - Actor is the identity whose connection sent the triggering event.
// - Recording is best-effort; signaling never waits on a failed append.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	Actor string `json:"actor" db:"actor"`
	// Peer is the other party's identity when it is known.
	Peer string `json:"peer,omitempty" db:"peer"`
	// Handle is the actor's connection handle.
	Handle   string `json:"handle,omitempty" db:"handle"`
	CallKind string `json:"call_kind,omitempty" db:"call_kind"`

	// Reason says why an event was dropped.
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeInvite     EventType = "invite"
	EventTypeReject     EventType = "reject"
	EventTypeCancel     EventType = "cancel"
	EventTypeDropped    EventType = "dropped"
	EventTypeSuperseded EventType = "superseded"
)
