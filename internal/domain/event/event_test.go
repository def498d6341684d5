package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomSplit(t *testing.T) {
	cases := []struct {
		room Room
		kind string
		id   string
	}{
		{DocumentRoom("d1"), "document", "d1"},
		{EntityRoom("lead-9"), "entity", "lead-9"},
		{UserRoom("u7"), "user", "u7"},
		{BroadcastRoom, "broadcast", "global"},
	}
	for _, c := range cases {
		kind, id := c.room.Split()
		assert.Equal(t, c.kind, kind)
		assert.Equal(t, c.id, id)
	}
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("document:updated", "d1", "u1", json.RawMessage(`{"version":3}`))

	assert.Equal(t, "document:updated", env.Type)
	assert.Equal(t, "d1", env.ResourceID)
	assert.Equal(t, "u1", env.ActorID)
	assert.False(t, env.Timestamp.IsZero())

	b, err := json.Marshal(env)
	assert.NoError(t, err)
	assert.Contains(t, string(b), `"type":"document:updated"`)
	assert.Contains(t, string(b), `"resourceId":"d1"`)
}
