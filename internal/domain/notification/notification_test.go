package notification

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotification(t *testing.T) {
	payload := json.RawMessage(`{"leadId":"l1"}`)
	n := New("u1", "Lead reassigned", "Lead l1 is now yours", payload)

	require.NotNil(t, n)
	assert.NotEqual(t, uuid.Nil, n.NotificationID)
	assert.Equal(t, "u1", n.TargetUserID)
	assert.Equal(t, StatusPending, n.Status)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Nil(t, n.DeliveredAt)
}

func TestMarkDelivered(t *testing.T) {
	n := New("u1", "t", "b", nil)
	require.NoError(t, n.MarkDelivered())
	assert.Equal(t, StatusDelivered, n.Status)
	require.NotNil(t, n.DeliveredAt)

	assert.ErrorIs(t, n.MarkDelivered(), ErrInvalidTransition)
}

func TestMarkFailedKeepsLastError(t *testing.T) {
	n := New("u1", "t", "b", nil)
	n.MarkFailed("bus down")
	assert.Equal(t, StatusFailed, n.Status)
	require.NotNil(t, n.LastError)
	assert.Equal(t, "bus down", *n.LastError)

	// A later successful delivery still wins.
	require.NoError(t, n.MarkDelivered())
	assert.Equal(t, StatusDelivered, n.Status)
}
