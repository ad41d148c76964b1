package kiln

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kilnworks/kiln/logger"
)

// KillTimeout bounds how long Kill waits for dependency providers to kill
// themselves before force-terminating the remaining tasks.
const KillTimeout = 3 * time.Second

// State is a container lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateKilling  State = "killing"
	StateKilled   State = "killed"
)

// ServiceFactory produces a fresh service-logic instance. The container calls
// it once per worker; instances are discarded after the call, so service
// types share no state across workers unless a provider injects a shared
// resource deliberately.
type ServiceFactory func() any

// ContainerOptions hold dependency and configuration overrides passed to
// NewContainer.
type ContainerOptions struct {
	// Logger receives the container's lifecycle and worker logs.
	// Defaults to a no-op logger.
	Logger logger.Logger

	// Metrics instruments the container. Nil disables instrumentation.
	Metrics *Metrics

	// ContextFactory builds worker contexts. Defaults to
	// DefaultContextFactory.
	ContextFactory ContextFactory
}

// Container hosts one service instance's lifecycle: it owns the service's
// dependency providers and a bounded worker pool, spawns a managed worker
// task per inbound call, and coordinates orderly startup, graceful stop and
// forced kill.
//
// Forced termination is cooperative: tasks are cancelled through their
// context and abandoned, never preempted. Service methods and managed tasks
// must honor their context for kill to be prompt.
type Container struct {
	name       string
	factory    ServiceFactory
	ctxFactory ContextFactory
	config     Config
	maxWorkers int

	providers   providerSet
	entrypoints providerSet
	injections  injectionSet

	pool     *semaphore.Weighted
	registry *taskRegistry
	done     *completion

	baseCtx    context.Context
	baseCancel context.CancelFunc

	logger  logger.Logger
	metrics *Metrics

	mu    sync.Mutex
	state State
}

// NewContainer creates a container for one service. The provider slice is
// partitioned into entrypoints and injections by each provider's declared
// role; a provider whose role and implemented interface disagree is rejected.
func NewContainer(name string, factory ServiceFactory, providers []Provider, cfg Config, optFns ...func(*ContainerOptions)) (*Container, error) {
	if name == "" {
		return nil, fmt.Errorf("container needs a service name")
	}

	if factory == nil {
		return nil, fmt.Errorf("container %s needs a service factory", name)
	}

	opts := ContainerOptions{
		Logger:         logger.NewNop(),
		ContextFactory: DefaultContextFactory,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	settings, err := cfg.settings()
	if err != nil {
		return nil, err
	}

	c := &Container{
		name:       name,
		factory:    factory,
		ctxFactory: opts.ContextFactory,
		config:     cfg,
		maxWorkers: settings.MaxWorkers,
		providers:  providerSet(providers),
		pool:       semaphore.NewWeighted(int64(settings.MaxWorkers)),
		registry:   newTaskRegistry(),
		done:       newCompletion(),
		logger:     opts.Logger.Named("container").With(zap.String("service", name)),
		metrics:    opts.Metrics,
		state:      StateCreated,
	}
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())

	for _, p := range providers {
		switch p.Role() {
		case RoleEntrypoint:
			ep, ok := p.(Entrypoint)
			if !ok {
				return nil, fmt.Errorf("provider %s declares role entrypoint but does not implement Entrypoint", p.Name())
			}

			c.entrypoints = append(c.entrypoints, ep)
		case RoleInjection:
			inj, ok := p.(Injection)
			if !ok {
				return nil, fmt.Errorf("provider %s declares role injection but does not implement Injection", p.Name())
			}

			c.injections = append(c.injections, inj)
		default:
			return nil, fmt.Errorf("provider %s declares unknown role %q", p.Name(), p.Role())
		}
	}

	return c, nil
}

// Name returns the service name this container hosts.
func (c *Container) Name() string { return c.name }

// Config returns the container's configuration mapping.
func (c *Container) Config() Config { return c.config }

// Logger returns the container's logger.
func (c *Container) Logger() logger.Logger { return c.logger }

// MaxWorkers returns the worker concurrency bound.
func (c *Container) MaxWorkers() int { return c.maxWorkers }

// State returns the current lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Container) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start prepares and starts every dependency provider, then begins accepting
// spawn requests. Both phases fan out across the whole provider set and join
// before the next step. A provider failure here is fatal: the container never
// reaches running.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCreated {
		c.mu.Unlock()

		return ErrAlreadyStarted
	}
	c.mu.Unlock()

	c.logger.Debug("starting container",
		zap.Int("providers", len(c.providers)),
		zap.Int("max_workers", c.maxWorkers),
	)

	started := time.Now()

	if err := c.providers.prepare(ctx, c); err != nil {
		return fmt.Errorf("preparing dependency providers for %s: %w", c.name, err)
	}

	if err := c.providers.start(ctx); err != nil {
		return fmt.Errorf("starting dependency providers for %s: %w", c.name, err)
	}

	c.setState(StateRunning)
	c.logger.Debug("container started", zap.Duration("elapsed", time.Since(started)))

	return nil
}

// Stop shuts the container down gracefully.
//
// First every entrypoint is asked to Stop; entrypoints must not return until
// they have ceased producing new work. Then the worker pool drains. Only then
// are injections stopped, since no worker can be using them anymore. Any task
// a misbehaving provider left behind is force-killed, and the completion
// signal fires with no cause.
//
// Stopping an already-terminal container is a logged no-op. Provider stop
// errors are collected and returned but do not abort the sequence.
func (c *Container) Stop(ctx context.Context) error {
	if c.done.fired() {
		c.logger.Debug("already stopped")

		return nil
	}

	c.setState(StateStopping)
	c.logger.Debug("stopping container")

	started := time.Now()

	var errs error

	// Entrypoints first, so no new workers are started while we drain.
	if err := c.entrypoints.stop(ctx); err != nil {
		c.logger.Error("stopping entrypoints failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	// Wait for in-flight workers to complete.
	if err := c.pool.Acquire(ctx, int64(c.maxWorkers)); err != nil {
		c.logger.Warn("interrupted waiting for workers to drain", zap.Error(err))
		errs = multierr.Append(errs, err)
	} else {
		c.pool.Release(int64(c.maxWorkers))
	}

	// Safe now: no active worker can be using an injection.
	if err := c.injections.stop(ctx); err != nil {
		c.logger.Error("stopping injections failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	// A provider that ignored Stop may have left tasks behind.
	if n := c.registry.killAll(); n > 0 {
		c.logger.Warn("killed tasks left behind by providers", zap.Int("count", n))
	}

	c.baseCancel()

	if c.done.fire(nil) {
		c.setState(StateStopped)
		c.logger.Debug("container stopped", zap.Duration("elapsed", time.Since(started)))
	} else {
		// A concurrent Kill won the race to the completion signal.
		c.logger.Debug("container terminated during stop")
	}

	return errs
}

// Kill shuts the container down forcefully with the given cause.
//
// Every dependency provider gets KillTimeout to kill itself; the fan-out is
// abandoned when the window closes. All remaining managed tasks are then
// force-terminated and the completion signal fires carrying cause. Kill never
// fails and never blocks longer than the provider window; killing an
// already-terminal container is a logged no-op.
func (c *Container) Kill(cause error) {
	if c.done.fired() {
		c.logger.Debug("already stopped")

		return
	}

	c.setState(StateKilling)
	c.logger.Info("killing container", zap.NamedError("cause", cause))

	killCtx, cancel := context.WithTimeout(context.Background(), KillTimeout)
	defer cancel()

	providersDone := make(chan struct{})

	go func() {
		defer close(providersDone)

		if err := c.providers.kill(killCtx, cause); err != nil {
			c.logger.Warn("provider kill reported errors", zap.Error(err))
		}
	}()

	select {
	case <-providersDone:
	case <-killCtx.Done():
		c.logger.Warn("timeout waiting for dependency providers to kill themselves",
			zap.Duration("timeout", KillTimeout),
		)
	}

	if n := c.registry.killAll(); n > 0 {
		c.logger.Warn("killing active tasks", zap.Int("count", n))
	}

	c.baseCancel()
	c.metrics.containerKilled(c.name)

	if c.done.fire(cause) {
		c.setState(StateKilled)
	}
}

// Wait blocks until the container reaches a terminal state. If the container
// was killed, Wait returns the kill cause; after a graceful stop it returns
// nil. Any number of callers may wait concurrently.
func (c *Container) Wait() error {
	return c.done.wait()
}

// SpawnManaged runs fn as a lifecycle-managed task. The task is tracked in
// the container's registry until it finishes and its context is cancelled
// when the container kills it. Providers must create background work through
// this method so shutdown can account for it.
//
// Any error (or panic) escaping fn is treated as an infrastructure failure
// and kills the whole container; a task that merely observed its own forced
// termination is logged and dropped.
func (c *Container) SpawnManaged(name string, fn func(ctx context.Context) error) error {
	if c.done.fired() {
		return ErrNotRunning
	}

	taskCtx, cancel := context.WithCancel(c.baseCtx)
	task := &managedTask{name: name, cancel: cancel}
	c.registry.add(task)

	go func() {
		defer cancel()

		err := runRecovering(taskCtx, fn)
		c.registry.remove(task)
		c.handleTaskExit(task, err)
	}()

	return nil
}

func runRecovering(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in managed task: %v", r)
		}
	}()

	return fn(ctx)
}

// handleTaskExit inspects how a managed task ended. Forced termination is
// expected during shutdown and only logged; anything else that escapes a task
// is a bug in a provider or the container, so we fail fast and kill.
func (c *Container) handleTaskExit(task *managedTask, err error) {
	switch {
	case err == nil:
	case task.killed.Load() || (c.done.fired() && errors.Is(err, context.Canceled)):
		c.logger.Warn("managed task killed by container", zap.String("task", task.name))
	default:
		c.logger.Error("managed task exited with error",
			zap.String("task", task.name),
			zap.Error(err),
		)
		c.metrics.taskFailed(c.name)

		c.Kill(err)
	}
}

// SpawnWorker runs the service method bound to the given entrypoint as a
// managed worker task and returns its context handle immediately after
// scheduling. The call arguments are applied positionally; data initializes
// the worker context's metadata; handleResult, if non-nil, receives the call
// outcome before injections observe it.
//
// If the worker pool is saturated SpawnWorker blocks until a slot frees
// (backpressure, not an error). It fails only when the container is not
// running.
func (c *Container) SpawnWorker(provider Entrypoint, args []any, data map[string]any, handleResult ResultHandler) (*WorkerContext, error) {
	if c.State() != StateRunning {
		return nil, ErrNotRunning
	}

	if err := c.pool.Acquire(c.baseCtx, 1); err != nil {
		return nil, ErrNotRunning
	}

	service := c.factory()
	wc := c.ctxFactory(c, service, provider.MethodName(), args, data)

	c.logger.Debug("spawning worker", zap.Stringer("worker", wc))
	c.metrics.workerSpawned(c.name, wc.Method)

	err := c.SpawnManaged("worker "+wc.Method, func(ctx context.Context) error {
		defer c.pool.Release(1)
		defer c.metrics.workerDone(c.name)

		started := time.Now()
		runErr := c.runWorker(ctx, wc, handleResult)
		c.logger.Debug("worker finished",
			zap.Stringer("worker", wc),
			zap.Duration("elapsed", time.Since(started)),
		)

		return runErr
	})
	if err != nil {
		c.pool.Release(1)
		c.metrics.workerDone(c.name)

		return nil, err
	}

	return wc, nil
}
