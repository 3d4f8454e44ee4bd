package calllog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	repo := NewMemoryRepo()
	return NewService(repo, WithClock(clock.Now)), repo, clock
}

func TestService_OpenThenCloseCompletes(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := newTestService(t)

	opened, err := svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusOngoing, opened.Status)
	assert.Nil(t, opened.EndTime)

	clock.Advance(95 * time.Second)
	closed, err := svc.Close(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, closed.ID)
	assert.Equal(t, StatusCompleted, closed.Status)
	assert.Equal(t, 95, closed.DurationSeconds)

	require.Len(t, repo.Entries(), 1)
	assert.Equal(t, StatusCompleted, repo.Entries()[0].Status)
}

func TestService_OpenRequiresCaller(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Open(context.Background(), "", "bob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_CloseWithoutOngoingIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Close(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = svc.Close(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Close(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ClosePicksMostRecentOngoing(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	older, err := svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := svc.Open(ctx, "carol", "alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	closed, err := svc.Close(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, closed.ID)

	still, err := svc.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOngoing, still.Status)
}

func TestService_CloseByIDIsSingleShot(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	e, err := svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)

	_, err = svc.CloseByID(ctx, e.ID)
	require.NoError(t, err)
	_, err = svc.CloseByID(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.CloseByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentClosesFinishOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, err := svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, who := range []string{"alice", "bob", "alice", "bob"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			if _, err := svc.Close(ctx, who); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(who)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestService_Counts(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	_, err := svc.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	clock.Advance(-48 * time.Hour)
	_, err = svc.Open(ctx, "carol", "dave")
	require.NoError(t, err)
	_, err = svc.Close(ctx, "carol")
	require.NoError(t, err)
	clock.Advance(48 * time.Hour)

	byStatus, err := svc.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusOngoing: 1, StatusCompleted: 1}, byStatus)

	today, err := svc.CountToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, today)

	days, err := svc.CountByDay(ctx, 3)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), days[0].Day)
	assert.Equal(t, []int{1, 0, 1}, []int{days[0].Count, days[1].Count, days[2].Count})

	_, err = svc.CountByDay(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
