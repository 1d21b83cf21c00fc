package pollbroke

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabReusesLowestID(t *testing.T) {
	t.Parallel()

	s := newSlab[string](4)
	for i, v := range []string{"a", "b", "c", "d"} {
		id, err := s.insert(v)
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}

	_, err := s.insert("e")
	assert.ErrorIs(t, err, ErrTooManyConnections)
	assert.Equal(t, 4, s.len())

	v, ok := s.remove(2)
	assert.True(t, ok)
	assert.Equal(t, "c", v)
	_, ok = s.remove(2)
	assert.False(t, ok)
	s.remove(0)
	assert.Equal(t, 2, s.len())

	id, err := s.insert("f")
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	id, err = s.insert("g")
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	v, ok = s.get(2)
	assert.True(t, ok)
	assert.Equal(t, "g", v)
}

func TestSlabGet(t *testing.T) {
	t.Parallel()

	s := newSlab[*int](2)
	_, ok := s.get(0)
	assert.False(t, ok)
	_, ok = s.get(-1)
	assert.False(t, ok)

	x := 5
	id, err := s.insert(&x)
	require.NoError(t, err)
	got, ok := s.get(id)
	assert.True(t, ok)
	assert.Same(t, &x, got)

	s.remove(id)
	got, ok = s.get(id)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSlabEach(t *testing.T) {
	t.Parallel()

	s := newSlab[int](8)
	for i := 0; i < 5; i++ {
		_, err := s.insert(i * 10)
		require.NoError(t, err)
	}
	s.remove(1)
	s.remove(3)

	seen := map[int]int{}
	s.each(func(id, v int) {
		seen[id] = v
	})
	assert.Equal(t, map[int]int{0: 0, 2: 20, 4: 40}, seen)
}

func TestSlabZeroCapacity(t *testing.T) {
	t.Parallel()

	s := newSlab[int](0)
	_, err := s.insert(1)
	assert.ErrorIs(t, err, ErrTooManyConnections)
}
