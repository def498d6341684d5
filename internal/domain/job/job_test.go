package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 8*time.Second, Backoff(3))
	assert.Equal(t, 2*time.Second, Backoff(0), "attempt floor is 1")
}

func TestJobRetriesThenDies(t *testing.T) {
	j := New(QueueNotifications, "notification.dispatch", []byte(`{}`))
	require.Equal(t, StatusPending, j.Status)
	require.Equal(t, DefaultMaxAttempts, j.MaxAttempts)

	for attempt := 1; attempt <= j.MaxAttempts; attempt++ {
		require.NoError(t, j.MarkRunning())
		assert.Equal(t, attempt, j.Attempts)

		retry, err := j.MarkFailed("boom")
		require.NoError(t, err)
		if attempt < j.MaxAttempts {
			assert.True(t, retry)
			assert.Equal(t, StatusPending, j.Status)
			assert.False(t, j.RunAt.Before(j.UpdatedAt), "retry must be delayed")
		} else {
			assert.False(t, retry, "no fourth attempt")
			assert.Equal(t, StatusDead, j.Status)
		}
	}

	require.NotNil(t, j.LastError)
	assert.Equal(t, "boom", *j.LastError)
	assert.Error(t, j.MarkRunning(), "dead jobs cannot be claimed")
}

func TestRecoverReturnsOrphanToQueue(t *testing.T) {
	j := New(QueueCleanup, "presence.sweep", nil)
	require.NoError(t, j.MarkRunning())

	require.NoError(t, j.Recover("claim lease expired"))
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, 1, j.Attempts, "the lost attempt stays counted")
	require.NotNil(t, j.LastError)
	assert.Equal(t, "claim lease expired", *j.LastError)

	// An orphan with no attempts left is parked, not requeued.
	exhausted := New(QueueCleanup, "presence.sweep", nil)
	require.NoError(t, exhausted.MarkRunning())
	exhausted.Attempts = exhausted.MaxAttempts
	require.NoError(t, exhausted.Recover("claim lease expired"))
	assert.Equal(t, StatusDead, exhausted.Status)

	assert.ErrorIs(t, exhausted.Recover("again"), ErrInvalidTransition)
}

func TestJobDone(t *testing.T) {
	j := New(QueueEmail, "email.send", []byte(`{}`))
	require.NoError(t, j.MarkRunning())
	require.NoError(t, j.MarkDone())
	assert.Equal(t, StatusDone, j.Status)

	_, err := j.MarkFailed("late failure")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
