package kiln

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(name string) (*managedTask, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())

	return &managedTask{name: name, cancel: cancel}, ctx
}

func TestRegistryAddRemove(t *testing.T) {
	r := newTaskRegistry()
	assert.Equal(t, 0, r.len())

	task, _ := newTestTask("a")
	r.add(task)
	assert.Equal(t, 1, r.len())

	r.remove(task)
	assert.Equal(t, 0, r.len())

	// remove is idempotent
	r.remove(task)
	assert.Equal(t, 0, r.len())
}

func TestRegistryKillAll(t *testing.T) {
	r := newTaskRegistry()

	t1, ctx1 := newTestTask("one")
	t2, ctx2 := newTestTask("two")
	r.add(t1)
	r.add(t2)

	killed := r.killAll()
	assert.Equal(t, 2, killed)
	assert.Equal(t, 0, r.len(), "killed tasks are forgotten immediately")

	require.ErrorIs(t, ctx1.Err(), context.Canceled)
	require.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.True(t, t1.killed.Load())
	assert.True(t, t2.killed.Load())

	// A late completion-handler removal is a no-op.
	r.remove(t1)
	assert.Equal(t, 0, r.len())
}

func TestRegistryKillAllEmpty(t *testing.T) {
	r := newTaskRegistry()
	assert.Equal(t, 0, r.killAll())
}
