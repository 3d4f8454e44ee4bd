// Package presence maps authenticated identities to their live connection.
//
// Invariants:
//   - exactly one Entry per identity; the last successful Register wins
//   - Entry.Online is true iff Entry.Endpoint is the identity's open connection
//   - every Register and Unregister is followed by a full presence broadcast
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"call-relay/internal/signal"

	"github.com/jellydator/ttlcache/v3"
)

var (
	ErrNotFound = errors.New("presence: not found")
	// ErrDeparted accompanies ErrNotFound when the handle belonged to a
	// connection that closed recently.
	ErrDeparted = errors.New("presence: handle departed")
)

// Entry is a snapshot of one identity's reachability.
type Entry struct {
	Identity    string
	Name        string
	Handle      signal.Handle
	Online      bool
	ConnectedAt time.Time
}

// Mirror receives best-effort copies of presence transitions.
type Mirror interface {
	SetOnline(ctx context.Context, identity string, handle signal.Handle) error
	SetOffline(ctx context.Context, identity string) error
}

type entry struct {
	Entry
	endpoint signal.Endpoint
}

type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	handles map[signal.Handle]signal.Endpoint

	// broadcastMu orders snapshots with their delivery so every
	// connection converges on the latest online set.
	broadcastMu sync.Mutex
	// mirrorMu orders mirror writes; each write copies the state current at
	// the time it runs, so the last write always matches the directory.
	mirrorMu sync.Mutex

	departed *ttlcache.Cache[signal.Handle, string]
	mirror   Mirror
	log      *slog.Logger
	clock    func() time.Time
}

type Option func(*Directory)

func WithMirror(m Mirror) Option { return func(d *Directory) { d.mirror = m } }

func WithLogger(l *slog.Logger) Option { return func(d *Directory) { d.log = l } }

func WithDepartedTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		d.departed = ttlcache.New[signal.Handle, string](ttlcache.WithTTL[signal.Handle, string](ttl))
	}
}

func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		entries: make(map[string]*entry),
		handles: make(map[signal.Handle]signal.Endpoint),
		log:     slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.departed == nil {
		d.departed = ttlcache.New[signal.Handle, string](ttlcache.WithTTL[signal.Handle, string](2 * time.Minute))
	}
	go d.departed.Start()
	return d
}

// Close stops background expiry of departed handles.
func (d *Directory) Close() { d.departed.Stop() }

// Register makes ep the identity's live connection. A previously registered
// endpoint for the same identity is returned so the caller can close it; it is
// no longer addressable once Register returns.
func (d *Directory) Register(ctx context.Context, ep signal.Endpoint) (superseded signal.Endpoint) {
	identity := ep.Identity()

	d.mu.Lock()
	e, ok := d.entries[identity]
	if !ok {
		e = &entry{Entry: Entry{Identity: identity}}
		d.entries[identity] = e
	}
	if e.Online && e.endpoint != nil && e.Handle != ep.Handle() {
		superseded = e.endpoint
		delete(d.handles, e.Handle)
		d.departed.Set(e.Handle, identity, ttlcache.DefaultTTL)
	}
	e.Name = ep.Name()
	e.Handle = ep.Handle()
	e.endpoint = ep
	e.Online = true
	e.ConnectedAt = d.clock().UTC()
	d.handles[ep.Handle()] = ep
	d.mu.Unlock()

	d.syncMirror(ctx, identity)
	d.broadcast()
	return superseded
}

// Unregister clears the identity's presence if handle is still its live
// connection. A stale handle (superseded by a newer login) only stops being
// addressable. Calling it for an offline identity is a no-op apart from the
// regular presence broadcast. It reports whether the identity went offline.
func (d *Directory) Unregister(ctx context.Context, identity string, handle signal.Handle) bool {
	d.mu.Lock()
	if _, live := d.handles[handle]; live {
		delete(d.handles, handle)
		d.departed.Set(handle, identity, ttlcache.DefaultTTL)
	}
	wentOffline := false
	if e, ok := d.entries[identity]; ok && e.Online && e.Handle == handle {
		e.Online = false
		e.Handle = ""
		e.endpoint = nil
		wentOffline = true
	}
	d.mu.Unlock()

	if wentOffline {
		d.syncMirror(ctx, identity)
	}
	d.broadcast()
	return wentOffline
}

// Resolve returns the live endpoint registered for identity.
func (d *Directory) Resolve(identity string) (signal.Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[identity]
	if !ok || !e.Online || e.endpoint == nil {
		return nil, fmt.Errorf("%w: identity %q", ErrNotFound, identity)
	}
	return e.endpoint, nil
}

// Lookup returns the live endpoint behind handle.
func (d *Directory) Lookup(handle signal.Handle) (signal.Endpoint, error) {
	d.mu.RLock()
	ep, ok := d.handles[handle]
	d.mu.RUnlock()
	if ok {
		return ep, nil
	}
	if item := d.departed.Get(handle, ttlcache.WithDisableTouchOnHit[signal.Handle, string]()); item != nil {
		return nil, fmt.Errorf("%w: %w: handle of %q", ErrNotFound, ErrDeparted, item.Value())
	}
	return nil, fmt.Errorf("%w: handle %q", ErrNotFound, handle)
}

// Get returns a snapshot of the identity's entry.
func (d *Directory) Get(identity string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// Online lists online identities ordered by id.
func (d *Directory) Online() []signal.OnlineUser {
	d.mu.RLock()
	out := make([]signal.OnlineUser, 0, len(d.entries))
	for _, e := range d.entries {
		if e.Online {
			out = append(out, signal.OnlineUser{ID: e.Identity, Name: e.Name})
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) OnlineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, e := range d.entries {
		if e.Online {
			n++
		}
	}
	return n
}

// ConnectionCount counts addressable handles.
func (d *Directory) ConnectionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}

// Endpoints snapshots every addressable endpoint.
func (d *Directory) Endpoints() []signal.Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]signal.Endpoint, 0, len(d.handles))
	for _, ep := range d.handles {
		out = append(out, ep)
	}
	return out
}

// PresenceEnvelope builds the presence-update carrying the current online set.
func (d *Directory) PresenceEnvelope() (signal.Envelope, error) {
	return signal.NewEnvelope(signal.EventPresenceUpdate, signal.PresencePayload{Users: d.Online()})
}

func (d *Directory) syncMirror(ctx context.Context, identity string) {
	if d.mirror == nil {
		return
	}
	d.mirrorMu.Lock()
	defer d.mirrorMu.Unlock()

	e, ok := d.Get(identity)
	if ok && e.Online {
		if err := d.mirror.SetOnline(ctx, identity, e.Handle); err != nil {
			d.log.Warn("presence mirror online failed", "identity", identity, "err", err)
		}
		return
	}
	if err := d.mirror.SetOffline(ctx, identity); err != nil {
		d.log.Warn("presence mirror offline failed", "identity", identity, "err", err)
	}
}

func (d *Directory) broadcast() {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()

	env, err := d.PresenceEnvelope()
	if err != nil {
		d.log.Error("presence snapshot failed", "err", err)
		return
	}

	d.mu.RLock()
	targets := make([]signal.Endpoint, 0, len(d.handles))
	for _, ep := range d.handles {
		targets = append(targets, ep)
	}
	d.mu.RUnlock()

	for _, ep := range targets {
		if err := ep.Send(env); err != nil {
			d.log.Debug("presence broadcast skipped", "handle", ep.Handle(), "err", err)
		}
	}
}
