package calllog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryNotFoundOnce_FindsOlderEntryOnSecondLook(t *testing.T) {
	calls := 0
	e, err := retryNotFoundOnce(func() (Entry, error) {
		calls++
		if calls == 1 {
			return Entry{}, ErrNotFound
		}
		return Entry{ID: "older", Status: StatusCompleted}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "older", e.ID)
	assert.Equal(t, 2, calls)
}

func TestRetryNotFoundOnce_GivesUpAfterSecondMiss(t *testing.T) {
	calls := 0
	_, err := retryNotFoundOnce(func() (Entry, error) {
		calls++
		return Entry{}, ErrNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, calls)
}

func TestRetryNotFoundOnce_OtherErrorsAreNotRetried(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := retryNotFoundOnce(func() (Entry, error) {
		calls++
		return Entry{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
