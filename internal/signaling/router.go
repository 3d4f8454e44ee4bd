package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"call-relay/internal/audit"
	"call-relay/internal/metrics"
	"call-relay/internal/presence"
	"call-relay/internal/session"
	"call-relay/internal/signal"
	"call-relay/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Router forwards inbound events to their destination connection and keeps
// the session registry in step. Failures never reach the sender: they are
// logged, counted and audited, and the event is dropped.
type Router struct {
	dir      *presence.Directory
	sessions *session.Registry
	audit    *audit.Service
	metrics  *metrics.Collector
	log      *slog.Logger
	tracer   trace.Tracer
}

type RouterDeps struct {
	Directory *presence.Directory
	Sessions  *session.Registry
	// Audit and Metrics are optional.
	Audit   *audit.Service
	Metrics *metrics.Collector
	Logger  *slog.Logger
	// Tracer defaults to the global provider.
	Tracer trace.TracerProvider
}

func NewRouter(d RouterDeps) *Router {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	tp := d.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Router{
		dir:      d.Directory,
		sessions: d.Sessions,
		audit:    d.Audit,
		metrics:  d.Metrics,
		log:      log,
		tracer:   tp.Tracer("call-relay/signaling"),
	}
}

// DispatchRaw decodes one text frame and dispatches it.
func (r *Router) DispatchRaw(ctx context.Context, from signal.Endpoint, data []byte) error {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
		r.Drop(ctx, from, "", err)
		return err
	}
	return r.Dispatch(ctx, from, env)
}

// Dispatch handles one inbound event from a registered connection.
func (r *Router) Dispatch(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	ctx, span := r.tracer.Start(ctx, "signaling.dispatch", trace.WithAttributes(
		attribute.String("signal.event", string(env.Type)),
		attribute.String("signal.handle", from.Handle().String()),
	))
	defer span.End()

	var err error
	switch env.Type {
	case signal.EventInviteCall:
		err = r.invite(ctx, from, env)
	case signal.EventAnswerCall:
		err = r.answer(ctx, from, env)
	case signal.EventNegotiationUpdate:
		err = r.candidate(ctx, from, env)
	case signal.EventRejectCall:
		err = r.reject(ctx, from, env)
	case signal.EventEndCall:
		err = r.end(ctx, from, env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, dropReason(err))
		r.Drop(ctx, from, env.Type, err)
		return err
	}
	r.metrics.EventRouted(string(env.Type))
	return nil
}

// Drop records an inbound event that was not delivered.
func (r *Router) Drop(ctx context.Context, from signal.Endpoint, event signal.EventType, err error) {
	reason := dropReason(err)
	r.logFor(ctx, from).Warn("event dropped", "event", event, "reason", reason, "err", err)
	r.metrics.EventDropped(string(event), reason)
	if r.audit != nil {
		if aerr := r.audit.LogDropped(ctx, from.Identity(), from.Handle().String(), string(event), reason); aerr != nil {
			r.log.Debug("audit append failed", "err", aerr)
		}
	}
}

// logFor returns the connection-scoped logger carried by ctx, or the router
// logger tagged with the sender.
func (r *Router) logFor(ctx context.Context, from signal.Endpoint) *slog.Logger {
	return logger.From(ctx, r.log.With("handle", from.Handle(), "identity", from.Identity()))
}

func (r *Router) invite(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	var p signal.InvitePayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Target == "" {
		return fmt.Errorf("%w: target required", ErrMalformed)
	}
	if p.Target == from.Identity() {
		return fmt.Errorf("%w: cannot call yourself", ErrMalformed)
	}
	switch p.Kind {
	case "":
		p.Kind = signal.CallKindAudio
	case signal.CallKindAudio, signal.CallKindVideo:
	default:
		return fmt.Errorf("%w: unknown call kind %q", ErrMalformed, p.Kind)
	}

	target, err := r.dir.Resolve(p.Target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	caller := session.PartyOf(from)
	s, superseded, err := r.sessions.Invite(caller, session.PartyOf(target), p.Kind)
	if err != nil {
		return err
	}
	if superseded != nil {
		r.notifyEnded(ctx, caller, superseded.Target)
		r.auditf(r.audit.LogSuperseded(ctx, caller.Identity, superseded.Target.Identity, caller.Handle.String()))
	}

	name := p.Name
	if name == "" {
		name = from.Name()
	}
	out, err := signal.NewEnvelope(signal.EventIncomingCall, signal.IncomingCallPayload{
		Offer:      p.Offer,
		From:       caller.Identity,
		Name:       name,
		Kind:       p.Kind,
		FromHandle: caller.Handle,
	})
	if err != nil {
		r.sessions.Abort(s.ID)
		return err
	}
	if err := send(target, out); err != nil {
		r.sessions.Abort(s.ID)
		return err
	}
	if err := r.sessions.MarkRinging(s.ID); err != nil {
		// Target disconnected right after delivery; its teardown ended the session.
		r.log.Debug("session gone before ringing", "session", s.ID, "err", err)
	}
	r.auditf(r.audit.LogInvite(ctx, caller.Identity, target.Identity(), caller.Handle.String(), string(p.Kind)))
	return nil
}

func (r *Router) answer(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	var p signal.AnswerPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.To == "" {
		return fmt.Errorf("%w: destination required", ErrMalformed)
	}
	out, err := signal.NewEnvelope(signal.EventCallAccepted, signal.CallAcceptedPayload{
		Answer:     p.Answer,
		From:       from.Identity(),
		FromHandle: from.Handle(),
	})
	if err != nil {
		return err
	}

	self := session.PartyOf(from)
	s, superseded, err := r.sessions.Accept(ctx, self, p.To)
	switch {
	case errors.Is(err, session.ErrBusy):
		return err
	case err != nil:
		// Forwarded anyway; only bookkeeping is missing.
		r.logFor(ctx, from).Warn("answer without ringing call", "to", p.To, "err", err)
	}
	if superseded != nil {
		r.notifyEnded(ctx, self, superseded.Target)
		r.auditf(r.audit.LogSuperseded(ctx, self.Identity, superseded.Target.Identity, self.Handle.String()))
	}

	if err := r.deliver(p.To, out); err != nil {
		if s.ID != "" {
			// The caller left before hearing the answer.
			if ended, eerr := r.sessions.EndByID(ctx, s.ID); eerr == nil {
				r.recordEnded(ctx, from.Handle(), ended)
			}
		}
		return err
	}
	if s.ID == "" {
		return nil
	}
	r.metrics.CallAccepted()
	r.log.Info("call accepted", "session", s.ID, "caller", s.Caller.Identity, "receiver", s.Target.Identity, "ledger", s.LedgerID)
	return nil
}

func (r *Router) candidate(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	var p signal.CandidatePayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.To == "" {
		return fmt.Errorf("%w: destination required", ErrMalformed)
	}
	out, err := signal.NewEnvelope(signal.EventNegotiationUpdateIncoming, signal.CandidateIncomingPayload{
		Candidate:  p.Candidate,
		FromHandle: from.Handle(),
	})
	if err != nil {
		return err
	}
	return r.deliver(p.To, out)
}

func (r *Router) reject(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	to, err := addressed(env)
	if err != nil {
		return err
	}
	out, err := signal.NewEnvelope(signal.EventCallRejected, signal.PeerPayload{From: from.Identity(), FromHandle: from.Handle()})
	if err != nil {
		return err
	}
	deliverErr := r.deliver(to, out)

	if s, err := r.sessions.Reject(session.PartyOf(from), to); err == nil {
		r.auditf(r.audit.LogReject(ctx, from.Identity(), s.Caller.Identity, from.Handle().String()))
	} else {
		r.logFor(ctx, from).Debug("reject without ringing call", "to", to)
	}
	return deliverErr
}

func (r *Router) end(ctx context.Context, from signal.Endpoint, env signal.Envelope) error {
	to, err := addressed(env)
	if err != nil {
		return err
	}
	out, err := signal.NewEnvelope(signal.EventCallEnded, signal.PeerPayload{From: from.Identity(), FromHandle: from.Handle()})
	if err != nil {
		return err
	}
	deliverErr := r.deliver(to, out)

	ended, err := r.sessions.End(ctx, session.PartyOf(from), to)
	switch {
	case errors.Is(err, session.ErrNotFound):
		r.logFor(ctx, from).Info("end without ongoing call", "to", to)
	case err != nil:
		r.logFor(ctx, from).Error("end call failed", "err", err)
	default:
		r.recordEnded(ctx, from.Handle(), ended)
	}
	return deliverErr
}

// notifyEnded tells peer that from's side of their call is gone.
func (r *Router) notifyEnded(ctx context.Context, from, peer session.Party) {
	out, err := signal.NewEnvelope(signal.EventCallEnded, signal.PeerPayload{From: from.Identity, FromHandle: from.Handle})
	if err != nil {
		r.log.Error("build call-ended failed", "err", err)
		return
	}
	if err := r.deliver(peer.Handle, out); err != nil {
		r.log.Debug("call-ended not delivered", "to", peer.Handle, "err", err)
	}
}

// recordEnded logs and audits a session ended by the connection at h.
func (r *Router) recordEnded(ctx context.Context, h signal.Handle, e session.Ended) {
	if e.Entry != nil {
		r.metrics.CallCompleted(e.Entry.DurationSeconds)
		r.log.Info("call completed",
			"ledger", e.Entry.ID,
			"caller", e.Entry.Caller,
			"receiver", e.Entry.Receiver,
			"duration_seconds", e.Entry.DurationSeconds,
		)
	}
	if e.Session.ID == "" {
		return
	}
	if e.Session.Phase == session.PhaseInvited || e.Session.Phase == session.PhaseRinging {
		self := e.Session.Caller
		if e.Session.Target.Handle == h {
			self = e.Session.Target
		}
		r.auditf(r.audit.LogCancel(ctx, self.Identity, e.Session.Peer(h).Identity, h.String()))
	}
}

func (r *Router) deliver(to signal.Handle, env signal.Envelope) error {
	ep, err := r.dir.Lookup(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return send(ep, env)
}

func send(ep signal.Endpoint, env signal.Envelope) error {
	if err := ep.Send(env); err != nil {
		if errors.Is(err, signal.ErrEndpointClosed) {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	return nil
}

func (r *Router) auditf(err error) {
	if err != nil && r.audit != nil {
		r.log.Debug("audit append failed", "err", err)
	}
}

func addressed(env signal.Envelope) (signal.Handle, error) {
	var p signal.AddressedPayload
	if err := env.Decode(&p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.To == "" {
		return "", fmt.Errorf("%w: destination required", ErrMalformed)
	}
	return p.To, nil
}
