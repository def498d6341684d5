package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConvergesInAnyOrder(t *testing.T) {
	updates := [][]byte{
		InsertUpdate("a", 1, "hel", 1, "n1"),
		InsertUpdate("b", 2, "lo", 2, "n2"),
		InsertUpdate("c", 3, " world", 3, "n1"),
		DeleteUpdate("c", 4, "n2"),
	}

	perms := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 3, 0, 2},
		{2, 0, 3, 1},
	}

	var want []byte
	for i, p := range perms {
		s := NewState()
		for _, idx := range p {
			_, err := s.Apply(updates[idx])
			require.NoError(t, err)
		}
		if i == 0 {
			want = s.Encode()
			continue
		}
		assert.Equal(t, string(want), string(s.Encode()), "permutation %v diverged", p)
	}

	s, err := Decode(want)
	require.NoError(t, err)
	assert.Equal(t, "hello", s.Text())
}

func TestMergeIdempotent(t *testing.T) {
	s := NewState()
	u := InsertUpdate("a", 1, "hello", 1, "n1")

	changed, err := s.Apply(u)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Apply(u)
	require.NoError(t, err)
	assert.False(t, changed, "duplicate update must be a no-op")
	assert.Equal(t, "hello", s.Text())
}

func TestMergeLastWriteWins(t *testing.T) {
	a := NewState()
	b := NewState()

	older := InsertUpdate("x", 1, "old", 5, "n1")
	newer := InsertUpdate("x", 1, "new", 7, "n2")

	_, _ = a.Apply(older)
	_, _ = a.Apply(newer)

	_, _ = b.Apply(newer)
	changed, err := b.Apply(older)
	require.NoError(t, err)
	assert.False(t, changed, "stale write must lose")

	assert.Equal(t, string(a.Encode()), string(b.Encode()))
	assert.Equal(t, "new", a.Text())
}

func TestMergeEqualStampFallsBackToNode(t *testing.T) {
	s := NewState()
	_, _ = s.Apply(InsertUpdate("x", 1, "from-a", 5, "aaa"))
	_, _ = s.Apply(InsertUpdate("x", 1, "from-z", 5, "zzz"))
	assert.Equal(t, "from-z", s.Text())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrBadState)
}

func TestTextOrdersByPosition(t *testing.T) {
	s := NewState()
	_, _ = s.Apply(InsertUpdate("b", 2, "world", 1, "n1"))
	_, _ = s.Apply(InsertUpdate("a", 1, "hello ", 1, "n1"))
	assert.Equal(t, "hello world", s.Text())
}
