package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-relay/internal/calllog"
	"call-relay/internal/signal"

	"github.com/google/uuid"
)

// Registry owns every in-flight session. All mutation goes through its
// methods; the ledger is never called with the registry lock held.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*Session
	byCaller map[signal.Handle]string

	ledger Ledger
	clock  func() time.Time
	log    *slog.Logger
}

type Option func(*Registry)

func WithClock(clock func() time.Time) Option { return func(r *Registry) { r.clock = clock } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

func NewRegistry(ledger Ledger, opts ...Option) *Registry {
	r := &Registry{
		byID:     make(map[string]*Session),
		byCaller: make(map[signal.Handle]string),
		ledger:   ledger,
		clock:    time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invite creates an Invited session from caller to target. A caller still
// ringing someone else has that attempt replaced; the replaced session is
// returned so its target can be told the call ended. A caller in an accepted
// call gets ErrBusy.
func (r *Registry) Invite(caller, target Party, kind signal.CallKind) (created Session, superseded *Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inAcceptedLocked(caller.Handle) {
		return Session{}, nil, ErrBusy
	}
	if prevID, ok := r.byCaller[caller.Handle]; ok {
		prev := r.byID[prevID]
		old := r.terminateLocked(prev)
		superseded = &old
	}

	s := &Session{
		ID:        uuid.NewString(),
		Caller:    caller,
		Target:    target,
		Kind:      kind,
		Phase:     PhaseInvited,
		CreatedAt: r.clock().UTC(),
	}
	r.byID[s.ID] = s
	r.byCaller[caller.Handle] = s.ID
	return *s, superseded, nil
}

// MarkRinging records that the target was notified.
func (r *Registry) MarkRinging(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.Phase == PhaseInvited {
		s.Phase = PhaseRinging
	}
	return nil
}

// Abort discards an Invited session whose notification could not be
// delivered. Nothing is reported to either side.
func (r *Registry) Abort(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.Phase == PhaseInvited {
		r.terminateLocked(s)
	}
}

// Accept moves the session that callerHandle started toward answerer into
// Accepted and opens its ledger entry. Other sessions ringing the answerer
// are left untouched, but the answerer's own outgoing attempt is replaced and
// returned so its target can be told the call ended. ErrBusy means either
// side is already in an accepted call with someone else.
func (r *Registry) Accept(ctx context.Context, answerer Party, callerHandle signal.Handle) (accepted Session, superseded *Session, err error) {
	r.mu.Lock()
	s := r.sessionLocked(callerHandle, answerer.Handle)
	if s == nil || (s.Phase != PhaseInvited && s.Phase != PhaseRinging) {
		busy := !r.pairedLocked(callerHandle, answerer.Handle) &&
			(r.inAcceptedLocked(callerHandle) || r.inAcceptedLocked(answerer.Handle))
		r.mu.Unlock()
		if busy {
			return Session{}, nil, ErrBusy
		}
		return Session{}, nil, fmt.Errorf("%w: no ringing call from %s", ErrNotFound, callerHandle)
	}
	if r.inAcceptedLocked(answerer.Handle) || r.inAcceptedLocked(s.Caller.Handle) {
		r.mu.Unlock()
		return Session{}, nil, ErrBusy
	}
	if prevID, ok := r.byCaller[answerer.Handle]; ok {
		old := r.terminateLocked(r.byID[prevID])
		superseded = &old
	}
	s.Phase = PhaseAccepted
	s.AcceptedAt = r.clock().UTC()
	id, caller, receiver := s.ID, s.Caller.Identity, s.Target.Identity
	r.mu.Unlock()

	entry, err := r.ledger.Open(ctx, caller, receiver)
	if err != nil {
		r.log.Error("ledger open failed", "session", id, "caller", caller, "receiver", receiver, "err", err)
		accepted, err = r.Get(id)
		return accepted, superseded, err
	}

	r.mu.Lock()
	s, live := r.byID[id]
	if live && s.Phase == PhaseAccepted {
		s.LedgerID = entry.ID
		out := *s
		r.mu.Unlock()
		return out, superseded, nil
	}
	r.mu.Unlock()

	// The call ended while the entry was being written.
	if _, err := r.ledger.CloseByID(ctx, entry.ID); err != nil {
		r.log.Warn("ledger close after early end failed", "session", id, "entry", entry.ID, "err", err)
	}
	return Session{}, superseded, fmt.Errorf("%w: %s ended before it was recorded", ErrNotFound, id)
}

// EndByID terminates one session regardless of phase and closes its ledger
// entry if it was accepted.
func (r *Registry) EndByID(ctx context.Context, id string) (Ended, error) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Ended{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ended := r.terminateLocked(s)
	r.mu.Unlock()
	return Ended{Session: ended, Entry: r.closeLedger(ctx, ended)}, nil
}

// Reject terminates the ringing session that callerHandle started toward
// rejecter. No ledger entry exists for it.
func (r *Registry) Reject(rejecter Party, callerHandle signal.Handle) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionLocked(callerHandle, rejecter.Handle)
	if s == nil || (s.Phase != PhaseInvited && s.Phase != PhaseRinging) {
		return Session{}, fmt.Errorf("%w: no ringing call from %s", ErrNotFound, callerHandle)
	}
	return r.terminateLocked(s), nil
}

// End terminates the session between ender and peerHandle, whichever side
// started it. An accepted session closes its ledger entry. When no session
// exists and ender has no other accepted call, the most recent ongoing ledger
// entry of ender's identity is closed instead. ErrNotFound means nothing was
// ended.
func (r *Registry) End(ctx context.Context, ender Party, peerHandle signal.Handle) (Ended, error) {
	r.mu.Lock()
	s := r.sessionLocked(ender.Handle, peerHandle)
	if s == nil {
		s = r.sessionLocked(peerHandle, ender.Handle)
	}
	if s == nil {
		busy := r.inAcceptedLocked(ender.Handle)
		r.mu.Unlock()
		if busy {
			return Ended{}, fmt.Errorf("%w: no call with %s", ErrNotFound, peerHandle)
		}
		return r.closeOrphan(ctx, ender.Identity)
	}
	ended := r.terminateLocked(s)
	r.mu.Unlock()

	out := Ended{Session: ended}
	out.Entry = r.closeLedger(ctx, ended)
	return out, nil
}

// DropHandle terminates every session the handle takes part in. Used when a
// connection closes; the returned sessions name the peers to notify.
func (r *Registry) DropHandle(ctx context.Context, h signal.Handle) []Ended {
	r.mu.Lock()
	var ended []Session
	for _, s := range r.byID {
		if s.Involves(h) {
			ended = append(ended, r.terminateLocked(s))
		}
	}
	r.mu.Unlock()

	out := make([]Ended, 0, len(ended))
	for _, s := range ended {
		out = append(out, Ended{Session: s, Entry: r.closeLedger(ctx, s)})
	}
	return out
}

func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *s, nil
}

// ByCaller returns the active session started by h.
func (r *Registry) ByCaller(h signal.Handle) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCaller[h]
	if !ok {
		return Session{}, false
	}
	return *r.byID[id], true
}

// Involving lists active sessions h takes part in.
func (r *Registry) Involving(h signal.Handle) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.byID {
		if s.Involves(h) {
			out = append(out, *s)
		}
	}
	return out
}

// Counts returns the number of active sessions per phase.
func (r *Registry) Counts() map[Phase]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Phase]int{}
	for _, s := range r.byID {
		out[s.Phase]++
	}
	return out
}

func (r *Registry) sessionLocked(callerHandle, targetHandle signal.Handle) *Session {
	id, ok := r.byCaller[callerHandle]
	if !ok {
		return nil
	}
	s := r.byID[id]
	if s.Target.Handle != targetHandle {
		return nil
	}
	return s
}

// pairedLocked reports whether a and b share an active session, in either
// direction.
func (r *Registry) pairedLocked(a, b signal.Handle) bool {
	for _, s := range r.byID {
		if s.Involves(a) && s.Involves(b) {
			return true
		}
	}
	return false
}

func (r *Registry) inAcceptedLocked(h signal.Handle) bool {
	for _, s := range r.byID {
		if s.Phase == PhaseAccepted && s.Involves(h) {
			return true
		}
	}
	return false
}

// terminateLocked removes s and returns a snapshot carrying the phase it was
// in. Callers inspect that phase to decide on ledger work.
func (r *Registry) terminateLocked(s *Session) Session {
	snap := *s
	s.Phase = PhaseTerminated
	delete(r.byID, s.ID)
	if r.byCaller[s.Caller.Handle] == s.ID {
		delete(r.byCaller, s.Caller.Handle)
	}
	return snap
}

func (r *Registry) closeLedger(ctx context.Context, s Session) *calllog.Entry {
	if s.Phase != PhaseAccepted || s.LedgerID == "" {
		// Accept closes the entry itself if it lands after the end.
		return nil
	}
	entry, err := r.ledger.CloseByID(ctx, s.LedgerID)
	if err != nil {
		if !errors.Is(err, calllog.ErrInvalidTransition) {
			r.log.Warn("ledger close failed", "session", s.ID, "entry", s.LedgerID, "err", err)
		}
		return nil
	}
	return &entry
}

func (r *Registry) closeOrphan(ctx context.Context, identity string) (Ended, error) {
	entry, err := r.ledger.Close(ctx, identity)
	if err != nil {
		if errors.Is(err, calllog.ErrNotFound) {
			return Ended{}, fmt.Errorf("%w: no call for %s", ErrNotFound, identity)
		}
		r.log.Warn("ledger close failed", "identity", identity, "err", err)
		return Ended{}, err
	}
	return Ended{Entry: &entry}, nil
}
