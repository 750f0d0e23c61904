package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(zaptest.NewLogger(t).Sugar())
}

func TestRegistry_AddRemove(t *testing.T) {
	r := newTestRegistry(t)
	p := &fakePeer{}

	assert.True(t, r.Add("student-a", p))
	assert.True(t, r.Has("student-a"))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, "broadcasting to 1 listener(s)", r.Status())

	removed, _ := r.Remove("student-a")
	assert.True(t, removed)
	assert.True(t, p.isClosed())
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, StatusWaiting, r.Status())
}

func TestRegistry_DuplicateAddClosesNewcomer(t *testing.T) {
	r := newTestRegistry(t)
	first := &fakePeer{}
	second := &fakePeer{}

	assert.True(t, r.Add("student-a", first))
	assert.False(t, r.Add("student-a", second))

	assert.False(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RemoveUnknownIsNoOp(t *testing.T) {
	r := newTestRegistry(t)
	removed, age := r.Remove("student-x")
	assert.False(t, removed)
	assert.Zero(t, age)
}

func TestRegistry_CloseAllClosesEverything(t *testing.T) {
	r := newTestRegistry(t)
	a := &fakePeer{}
	b := &fakePeer{}
	r.Add("student-a", a)
	r.Add("student-b", b)

	r.CloseAll()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_AddAfterCloseAllLoses(t *testing.T) {
	r := newTestRegistry(t)
	r.CloseAll()

	late := &fakePeer{}
	assert.False(t, r.Add("student-late", late))
	assert.True(t, late.isClosed())
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CloseAllIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	r.Add("student-a", &fakePeer{})
	r.CloseAll()
	r.CloseAll()
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_OnChangeObservesMutations(t *testing.T) {
	r := newTestRegistry(t)

	var counts []int
	var statuses []string
	r.SetOnChange(func(count int, status string) {
		counts = append(counts, count)
		statuses = append(statuses, status)
	})

	r.Add("student-a", &fakePeer{})
	r.Add("student-b", &fakePeer{})
	r.Remove("student-a")
	r.CloseAll()

	assert.Equal(t, []int{1, 2, 1, 0}, counts)
	assert.Equal(t, []string{
		"broadcasting to 1 listener(s)",
		"broadcasting to 2 listener(s)",
		"broadcasting to 1 listener(s)",
		StatusWaiting,
	}, statuses)
}
