package intern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternResolve(t *testing.T) {
	i := New()

	h := i.Intern("postgres")
	s, ok := i.Resolve(h)
	assert.True(t, ok)
	assert.Equal(t, "postgres", s)

	// idempotence
	assert.Equal(t, h, i.Intern("postgres"))
	assert.Equal(t, 1, i.Len())

	// unknown hash
	_, ok = i.Resolve(12345)
	assert.False(t, ok)
}

func TestInternDistinctStrings(t *testing.T) {
	i := New()
	h1 := i.Intern("walwriter")
	h2 := i.Intern("checkpointer")
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, i.Len())
}

func TestMerge(t *testing.T) {
	a := New()
	b := New()

	h1 := a.Intern("alpha")
	h2 := b.Intern("beta")
	b.Intern("alpha") // overlap with identical string is fine

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 2, a.Len())

	s, ok := a.Resolve(h1)
	assert.True(t, ok)
	assert.Equal(t, "alpha", s)
	s, ok = a.Resolve(h2)
	assert.True(t, ok)
	assert.Equal(t, "beta", s)
}

func TestMergeConflict(t *testing.T) {
	a := New()
	b := New()
	h := a.Intern("alpha")
	// forge a conflicting entry in b
	b.strings = map[uint64]string{h: "not alpha"}

	assert.Error(t, a.Merge(b))
}

func TestFilter(t *testing.T) {
	i := New()
	h1 := i.Intern("keep me")
	i.Intern("drop me")

	filtered := i.Filter(map[uint64]struct{}{h1: {}})
	assert.Equal(t, 1, filtered.Len())

	s, ok := filtered.Resolve(h1)
	assert.True(t, ok)
	assert.Equal(t, "keep me", s)
}

func TestClear(t *testing.T) {
	i := New()
	i.Intern("something")
	i.Clear()
	assert.Equal(t, 0, i.Len())

	// usable after clear
	h := i.Intern("fresh")
	s, ok := i.Resolve(h)
	assert.True(t, ok)
	assert.Equal(t, "fresh", s)
}

func TestHashMatchesPackageFunc(t *testing.T) {
	i := New()
	assert.Equal(t, Hash("idle"), i.Intern("idle"))
}
