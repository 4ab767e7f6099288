package slotmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/slotmap"
)

func TestInsertGet(t *testing.T) {
	m := slotmap.New[string]()
	h := m.Insert("hello")

	v, err := m.Get(h)
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestZeroHandleAlwaysGone(t *testing.T) {
	m := slotmap.New[int]()
	var h slotmap.Handle
	require.True(t, h.Zero())
	_, err := m.Get(h)
	require.ErrorIs(t, err, slotmap.ErrGone)
}

func TestRemoveInvalidatesStaleHandle(t *testing.T) {
	m := slotmap.New[int]()
	h := m.Insert(42)

	require.NoError(t, m.Remove(h))
	_, err := m.Get(h)
	require.ErrorIs(t, err, slotmap.ErrGone)

	// Double-remove is safe, not a crash.
	require.ErrorIs(t, m.Remove(h), slotmap.ErrGone)
}

func TestGenerationPreventsUseAfterReuse(t *testing.T) {
	m := slotmap.New[int]()
	h1 := m.Insert(1)
	require.NoError(t, m.Remove(h1))

	h2 := m.Insert(2)
	require.Equal(t, h1.Slot, h2.Slot, "slot should be recycled")
	require.NotEqual(t, h1.Generation, h2.Generation)

	_, err := m.Get(h1)
	require.ErrorIs(t, err, slotmap.ErrGone, "stale handle must not alias the new occupant")

	v, err := m.Get(h2)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestSetOverwritesInPlace(t *testing.T) {
	m := slotmap.New[int]()
	h := m.Insert(1)
	require.NoError(t, m.Set(h, 99))
	v, err := m.Get(h)
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

func TestLenAndEach(t *testing.T) {
	m := slotmap.New[int]()
	m.Insert(1)
	m.Insert(2)
	h3 := m.Insert(3)
	m.Remove(h3)

	require.Equal(t, 2, m.Len())

	seen := map[int]bool{}
	m.Each(func(h slotmap.Handle, v int) { seen[v] = true })
	require.Equal(t, map[int]bool{1: true, 2: true}, seen)
}
