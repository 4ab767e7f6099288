package formtable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/formtable"
)

func TestSetGetReplace(t *testing.T) {
	tbl := formtable.New()

	_, existed := tbl.Set("name", "alice")
	require.False(t, existed)

	v, ok := tbl.Get("name")
	require.True(t, ok)
	require.Equal(t, "alice", v)

	prev, existed := tbl.Set("name", "bob")
	require.True(t, existed)
	require.Equal(t, "alice", prev)

	v, ok = tbl.Get("name")
	require.True(t, ok)
	require.Equal(t, "bob", v)
}

func TestGetMissing(t *testing.T) {
	tbl := formtable.New()
	_, ok := tbl.Get("absent")
	require.False(t, ok)
}

func TestDelete(t *testing.T) {
	tbl := formtable.NewWithBuckets(4)
	tbl.Set("a", "1")
	tbl.Set("b", "2")
	require.Equal(t, 2, tbl.Len())

	require.True(t, tbl.Delete("a"))
	require.False(t, tbl.Delete("a"))
	require.Equal(t, 1, tbl.Len())

	_, ok := tbl.Get("a")
	require.False(t, ok)
}

func TestCollisionChaining(t *testing.T) {
	// Force every key into the same bucket to exercise chain traversal.
	tbl := formtable.NewWithBuckets(1)
	tbl.Set("a", "1")
	tbl.Set("b", "2")
	tbl.Set("c", "3")
	require.Equal(t, 3, tbl.Len())

	v, ok := tbl.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", v)

	require.True(t, tbl.Delete("b"))
	_, ok = tbl.Get("a")
	require.True(t, ok)
	_, ok = tbl.Get("c")
	require.True(t, ok)
}

func TestEachVisitsAll(t *testing.T) {
	tbl := formtable.New()
	want := map[string]string{"x": "1", "y": "2", "z": "3"}
	for k, v := range want {
		tbl.Set(k, v)
	}

	got := map[string]string{}
	tbl.Each(func(k, v string) { got[k] = v })
	require.Equal(t, want, got)
}

func TestReset(t *testing.T) {
	tbl := formtable.New()
	tbl.Set("k", "v")
	tbl.Reset()
	require.Equal(t, 0, tbl.Len())
	_, ok := tbl.Get("k")
	require.False(t, ok)
}
