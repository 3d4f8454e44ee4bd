// Package signaltest provides an in-memory signal.Endpoint for tests.
package signaltest

import (
	"sync"

	"call-relay/internal/signal"
)

type Endpoint struct {
	handle   signal.Handle
	identity string
	name     string

	mu     sync.Mutex
	sent   []signal.Envelope
	closed bool
}

func NewEndpoint(identity, name string) *Endpoint {
	return &Endpoint{handle: signal.NewHandle(), identity: identity, name: name}
}

func (e *Endpoint) Handle() signal.Handle { return e.handle }
func (e *Endpoint) Identity() string      { return e.identity }
func (e *Endpoint) Name() string          { return e.name }

func (e *Endpoint) Send(env signal.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return signal.ErrEndpointClosed
	}
	e.sent = append(e.sent, env)
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Sent returns a copy of everything delivered so far.
func (e *Endpoint) Sent() []signal.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal.Envelope(nil), e.sent...)
}

// OfType filters Sent by event type.
func (e *Endpoint) OfType(t signal.EventType) []signal.Envelope {
	var out []signal.Envelope
	for _, env := range e.Sent() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Last returns the most recent envelope of type t.
func (e *Endpoint) Last(t signal.EventType) (signal.Envelope, bool) {
	envs := e.OfType(t)
	if len(envs) == 0 {
		return signal.Envelope{}, false
	}
	return envs[len(envs)-1], true
}

func (e *Endpoint) Reset() {
	e.mu.Lock()
	e.sent = nil
	e.mu.Unlock()
}
