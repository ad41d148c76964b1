package kiln

import (
	"context"
	"sync"
	"sync/atomic"
)

// managedTask is one unit of concurrent execution tracked by a container. Its
// cancel function is the forced-termination handle: cancellation in Go is
// cooperative, so kill cancels the task's context and abandons it rather than
// preempting it. The killed flag is set before cancelling so the exit handler
// can tell a killed task from one that crashed.
type managedTask struct {
	name   string
	cancel context.CancelFunc
	killed atomic.Bool
}

// kill force-terminates the task. It does not wait for the task body.
func (t *managedTask) kill() {
	t.killed.Store(true)
	t.cancel()
}

// taskRegistry tracks every live managed task of a container. Tasks are added
// at spawn and removed exactly once: by their completion handler, or earlier
// by killAll when they are abandoned.
type taskRegistry struct {
	mu    sync.Mutex
	tasks map[*managedTask]struct{}
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: make(map[*managedTask]struct{})}
}

func (r *taskRegistry) add(t *managedTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[t] = struct{}{}
}

// remove is idempotent; killed tasks were already dropped by killAll.
func (r *taskRegistry) remove(t *managedTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, t)
}

func (r *taskRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks)
}

// killAll force-terminates every registered task and forgets them
// immediately. It returns the number of tasks killed. Termination is
// best-effort: the registry does not wait for the task bodies to observe
// cancellation.
func (r *taskRegistry) killAll() int {
	r.mu.Lock()
	snapshot := make([]*managedTask, 0, len(r.tasks))

	for t := range r.tasks {
		snapshot = append(snapshot, t)
	}

	r.tasks = make(map[*managedTask]struct{})
	r.mu.Unlock()

	for _, t := range snapshot {
		t.kill()
	}

	return len(snapshot)
}
