package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"call-relay/internal/signal"
	"call-relay/internal/signal/signaltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu      sync.Mutex
	online  map[string]signal.Handle
	offline []string
}

func (m *recordingMirror) SetOnline(_ context.Context, identity string, h signal.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == nil {
		m.online = map[string]signal.Handle{}
	}
	m.online[identity] = h
	return nil
}

func (m *recordingMirror) SetOffline(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, identity)
	m.offline = append(m.offline, identity)
	return nil
}

func newDirectory(t *testing.T, opts ...Option) *Directory {
	t.Helper()
	d := NewDirectory(opts...)
	t.Cleanup(d.Close)
	return d
}

func lastPresence(t *testing.T, ep *signaltest.Endpoint) []signal.OnlineUser {
	t.Helper()
	env, ok := ep.Last(signal.EventPresenceUpdate)
	require.True(t, ok, "no presence-update delivered to %s", ep.Identity())
	var p signal.PresencePayload
	require.NoError(t, env.Decode(&p))
	return p.Users
}

func TestRegister_ResolvesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	alice := signaltest.NewEndpoint("alice", "Alice")
	bob := signaltest.NewEndpoint("bob", "Bob")

	assert.Nil(t, d.Register(ctx, alice))
	assert.Nil(t, d.Register(ctx, bob))

	got, err := d.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, alice.Handle(), got.Handle())

	byHandle, err := d.Lookup(bob.Handle())
	require.NoError(t, err)
	assert.Equal(t, "bob", byHandle.Identity())

	want := []signal.OnlineUser{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}}
	assert.Equal(t, want, lastPresence(t, alice))
	assert.Equal(t, want, lastPresence(t, bob))
	assert.Equal(t, 2, d.OnlineCount())
}

func TestResolve_UnknownIdentity(t *testing.T) {
	d := newDirectory(t)
	_, err := d.Resolve("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegister_DuplicateLoginSupersedes(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	first := signaltest.NewEndpoint("alice", "Alice")
	second := signaltest.NewEndpoint("alice", "Alice")

	d.Register(ctx, first)
	old := d.Register(ctx, second)
	require.NotNil(t, old)
	assert.Equal(t, first.Handle(), old.Handle())

	got, err := d.Resolve("alice")
	require.NoError(t, err)
	assert.Equal(t, second.Handle(), got.Handle())

	_, err = d.Lookup(first.Handle())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrDeparted)

	// The stale connection closing must not take the new one offline.
	assert.False(t, d.Unregister(ctx, "alice", first.Handle()))
	_, err = d.Resolve("alice")
	assert.NoError(t, err)
}

func TestUnregister_IdempotentAndAlwaysBroadcasts(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	alice := signaltest.NewEndpoint("alice", "Alice")
	bob := signaltest.NewEndpoint("bob", "Bob")
	d.Register(ctx, alice)
	d.Register(ctx, bob)
	bob.Reset()

	assert.True(t, d.Unregister(ctx, "alice", alice.Handle()))
	assert.Len(t, bob.OfType(signal.EventPresenceUpdate), 1)
	assert.Equal(t, []signal.OnlineUser{{ID: "bob", Name: "Bob"}}, lastPresence(t, bob))

	assert.False(t, d.Unregister(ctx, "alice", alice.Handle()))
	assert.Len(t, bob.OfType(signal.EventPresenceUpdate), 2)
	assert.Equal(t, []signal.OnlineUser{{ID: "bob", Name: "Bob"}}, lastPresence(t, bob))

	e, ok := d.Get("alice")
	require.True(t, ok)
	assert.False(t, e.Online)
	assert.Empty(t, e.Handle)
}

func TestLookup_DepartedHandleExpires(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t, WithDepartedTTL(20*time.Millisecond))
	alice := signaltest.NewEndpoint("alice", "Alice")
	d.Register(ctx, alice)
	d.Unregister(ctx, "alice", alice.Handle())

	_, err := d.Lookup(alice.Handle())
	assert.ErrorIs(t, err, ErrDeparted)

	assert.Eventually(t, func() bool {
		_, err := d.Lookup(alice.Handle())
		return errors.Is(err, ErrNotFound) && !errors.Is(err, ErrDeparted)
	}, time.Second, 10*time.Millisecond)
}

func TestDirectory_MirrorsTransitions(t *testing.T) {
	ctx := context.Background()
	m := &recordingMirror{}
	d := newDirectory(t, WithMirror(m))
	alice := signaltest.NewEndpoint("alice", "Alice")

	d.Register(ctx, alice)
	assert.Equal(t, alice.Handle(), m.online["alice"])

	d.Unregister(ctx, "alice", alice.Handle())
	d.Unregister(ctx, "alice", alice.Handle())
	assert.Empty(t, m.online)
	assert.Equal(t, []string{"alice"}, m.offline)
}

// gatedMirror holds the first SetOffline until release is closed.
type gatedMirror struct {
	recordingMirror
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *gatedMirror) SetOffline(ctx context.Context, identity string) error {
	first := false
	m.once.Do(func() { first = true })
	if first {
		close(m.entered)
		<-m.release
	}
	return m.recordingMirror.SetOffline(ctx, identity)
}

func TestMirror_ReconnectDuringSlowOfflineWriteEndsOnline(t *testing.T) {
	ctx := context.Background()
	m := &gatedMirror{entered: make(chan struct{}), release: make(chan struct{})}
	d := newDirectory(t, WithMirror(m))
	first := signaltest.NewEndpoint("alice", "Alice")
	second := signaltest.NewEndpoint("alice", "Alice")

	d.Register(ctx, first)

	unregistered := make(chan struct{})
	go func() {
		defer close(unregistered)
		d.Unregister(ctx, "alice", first.Handle())
	}()
	<-m.entered

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		d.Register(ctx, second)
	}()
	require.Eventually(t, func() bool {
		e, ok := d.Get("alice")
		return ok && e.Online && e.Handle == second.Handle()
	}, time.Second, time.Millisecond)

	close(m.release)
	<-unregistered
	<-registered

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, second.Handle(), m.online["alice"])
}

func TestDirectory_ConcurrentChurnConverges(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	observer := signaltest.NewEndpoint("observer", "Observer")
	d.Register(ctx, observer)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ep := signaltest.NewEndpoint(id, id)
			d.Register(ctx, ep)
			if id < "d" {
				d.Unregister(ctx, id, ep.Handle())
			}
		}(id)
	}
	wg.Wait()

	want := []signal.OnlineUser{{ID: "d", Name: "d"}, {ID: "e", Name: "e"}, {ID: "f", Name: "f"}, {ID: "observer", Name: "Observer"}}
	assert.Equal(t, want, d.Online())
	assert.Equal(t, want, lastPresence(t, observer))
}

func TestEndpoints_ExcludesSuperseded(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	old := signaltest.NewEndpoint("alice", "Alice")
	d.Register(ctx, old)
	fresh := signaltest.NewEndpoint("alice", "Alice")
	d.Register(ctx, fresh)
	d.Register(ctx, signaltest.NewEndpoint("bob", "Bob"))

	eps := d.Endpoints()
	require.Len(t, eps, 2)
	for _, ep := range eps {
		assert.NotEqual(t, old.Handle(), ep.Handle())
	}
}
