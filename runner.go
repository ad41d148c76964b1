package kiln

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kilnworks/kiln/logger"
)

// RunnerOptions hold dependency overrides passed to NewRunner.
type RunnerOptions struct {
	// Logger is shared by the runner and every container it creates.
	// Defaults to a no-op logger.
	Logger logger.Logger

	// Metrics is shared by every container. Nil disables instrumentation.
	Metrics *Metrics
}

type serviceDef struct {
	name       string
	factory    ServiceFactory
	providers  []Provider
	ctxFactory ContextFactory
}

// Runner serves a number of services concurrently: one container per
// registered service, started, stopped and killed as a group.
//
//	runner := kiln.NewRunner(cfg)
//	runner.AddService("payments", newPaymentsService, paymentsProviders...)
//	runner.AddService("ledger", newLedgerService, ledgerProviders...)
//
//	if err := runner.Start(ctx); err != nil {
//	    return err
//	}
//
//	return runner.Wait()
type Runner struct {
	config  Config
	logger  logger.Logger
	metrics *Metrics

	mu         sync.Mutex
	defs       map[string]*serviceDef
	order      []string
	containers []*Container
}

// NewRunner creates a runner with shared configuration for its containers.
func NewRunner(cfg Config, optFns ...func(*RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Logger: logger.NewNop(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		config:  cfg,
		logger:  opts.Logger.Named("runner"),
		metrics: opts.Metrics,
		defs:    make(map[string]*serviceDef),
	}
}

// AddService registers a service with the runner. There can be only one
// service per name, and services must be registered before Start.
func (r *Runner) AddService(name string, factory ServiceFactory, providers ...Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}

	r.defs[name] = &serviceDef{
		name:      name,
		factory:   factory,
		providers: providers,
	}
	r.order = append(r.order, name)

	return nil
}

// SetContextFactory overrides the worker-context factory for one registered
// service, letting its entrypoint stack declare extra propagated data keys.
func (r *Runner) SetContextFactory(name string, f ContextFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, exists := r.defs[name]
	if !exists {
		return fmt.Errorf("service %s not registered", name)
	}

	def.ctxFactory = f

	return nil
}

// Start creates one container per registered service and starts them all
// concurrently, returning once every container has completed its startup.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("starting services", zap.Strings("services", r.order))

	for _, name := range r.order {
		def := r.defs[name]

		container, err := NewContainer(def.name, def.factory, def.providers, r.config, func(o *ContainerOptions) {
			o.Logger = r.logger
			o.Metrics = r.metrics

			if def.ctxFactory != nil {
				o.ContextFactory = def.ctxFactory
			}
		})
		if err != nil {
			return err
		}

		r.containers = append(r.containers, container)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, c := range r.containers {
		c := c

		g.Go(func() error { return c.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("starting services: %w", err)
	}

	r.logger.Info("services started", zap.Strings("services", r.order))

	return nil
}

// Stop stops all running containers concurrently and blocks until every
// container has stopped.
func (r *Runner) Stop(ctx context.Context) error {
	r.logger.Info("stopping services")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, c := range r.snapshot() {
		c := c

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := c.Stop(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("stopping %s: %w", c.Name(), err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	r.logger.Info("services stopped")

	return errs
}

// Kill kills all running containers concurrently with the given cause and
// blocks until every container has terminated.
func (r *Runner) Kill(cause error) {
	r.logger.Info("killing services", zap.NamedError("cause", cause))

	var wg sync.WaitGroup

	for _, c := range r.snapshot() {
		c := c

		wg.Add(1)

		go func() {
			defer wg.Done()
			c.Kill(cause)
		}()
	}

	wg.Wait()
	r.logger.Info("services killed")
}

// Wait blocks until every container has reached a terminal state, returning
// the collected kill causes, or nil if all services stopped cleanly.
func (r *Runner) Wait() error {
	var errs error

	for _, c := range r.snapshot() {
		if err := c.Wait(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// Containers returns the containers created by Start.
func (r *Runner) Containers() []*Container {
	return r.snapshot()
}

func (r *Runner) snapshot() []*Container {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Container, len(r.containers))
	copy(out, r.containers)

	return out
}
