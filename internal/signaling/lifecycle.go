package signaling

import (
	"context"
	"log/slog"
	"sync"

	"call-relay/internal/metrics"
	"call-relay/internal/presence"
	"call-relay/internal/session"
	"call-relay/internal/signal"
)

// Lifecycle performs connection setup and teardown. Teardown runs on every
// close, whatever the cause.
type Lifecycle struct {
	dir      *presence.Directory
	sessions *session.Registry
	router   *Router
	metrics  *metrics.Collector
	log      *slog.Logger

	// serving counts connections between upgrade and finished teardown.
	serving sync.WaitGroup
}

func NewLifecycle(dir *presence.Directory, sessions *session.Registry, router *Router, m *metrics.Collector, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{dir: dir, sessions: sessions, router: router, metrics: m, log: log}
}

// Connect registers an authenticated endpoint. The endpoint first receives
// its connected acknowledgement, then the presence-update produced by the
// registration. A previous connection of the same identity is closed.
func (l *Lifecycle) Connect(ctx context.Context, ep signal.Endpoint) error {
	ack, err := signal.NewEnvelope(signal.EventConnected, signal.ConnectedPayload{
		Handle:   ep.Handle(),
		Identity: ep.Identity(),
	})
	if err != nil {
		return err
	}
	if err := ep.Send(ack); err != nil {
		return err
	}

	if old := l.dir.Register(ctx, ep); old != nil {
		l.log.Info("duplicate login superseded",
			"identity", ep.Identity(),
			"old_handle", old.Handle(),
			"handle", ep.Handle(),
		)
		if err := old.Close(); err != nil {
			l.log.Debug("close superseded connection failed", "handle", old.Handle(), "err", err)
		}
	}
	l.metrics.ConnectionOpened()
	l.log.Info("connected", "identity", ep.Identity(), "handle", ep.Handle())
	return nil
}

// Disconnect clears presence first so nothing new is routed to the handle,
// then ends every session it took part in and tells each peer.
func (l *Lifecycle) Disconnect(ctx context.Context, ep signal.Endpoint) {
	h := ep.Handle()
	wentOffline := l.dir.Unregister(ctx, ep.Identity(), h)

	self := session.PartyOf(ep)
	for _, e := range l.sessions.DropHandle(ctx, h) {
		l.router.notifyEnded(ctx, self, e.Session.Peer(h))
		l.router.recordEnded(ctx, h, e)
	}

	l.metrics.ConnectionClosed()
	l.log.Info("disconnected", "identity", ep.Identity(), "handle", h, "offline", wentOffline)
}

// CloseAll closes every registered endpoint. Each connection's own Serve loop
// then runs Disconnect. Used on process shutdown, where the HTTP server does
// not track upgraded connections.
func (l *Lifecycle) CloseAll() int {
	eps := l.dir.Endpoints()
	for _, ep := range eps {
		if err := ep.Close(); err != nil {
			l.log.Debug("close on shutdown failed", "handle", ep.Handle(), "err", err)
		}
	}
	return len(eps)
}

// Wait blocks until every served connection has finished its teardown, or
// ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
