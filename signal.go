package kiln

import "sync"

// completion is a one-shot, multi-waiter signal marking a container's terminal
// state. It fires exactly once, optionally carrying the failure cause; every
// waiter blocked in wait is released when it fires and observes the same
// cause. A nil cause means the container stopped cleanly.
type completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

// fire marks the signal with the given cause. It reports whether this call
// won the race; later calls are no-ops.
func (c *completion) fire(cause error) bool {
	won := false

	c.once.Do(func() {
		c.err = cause
		close(c.done)

		won = true
	})

	return won
}

// fired reports whether the signal has fired.
func (c *completion) fired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// wait blocks until the signal fires and returns the cause it fired with.
func (c *completion) wait() error {
	<-c.done

	return c.err
}
