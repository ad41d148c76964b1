package kiln

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Role declares a dependency provider's capability. The container partitions
// its providers by role at construction time: entrypoints trigger work,
// injections supply resources to workers.
type Role string

const (
	// RoleEntrypoint marks providers that react to external events and spawn
	// workers through the container.
	RoleEntrypoint Role = "entrypoint"

	// RoleInjection marks providers that attach resources to worker contexts
	// and observe call outcomes.
	RoleInjection Role = "injection"
)

// Provider is the lifecycle contract every dependency provider implements.
//
// Prepare and Start are called on the whole provider set, in that order,
// before the container accepts spawn requests. Stop must not return until the
// provider has ceased all activity relevant to its role; for entrypoints that
// means no new work will be produced once Stop returns. Kill is the
// best-effort forced path; it is bounded by the container's kill timeout and
// must release resources as quickly as possible.
//
// Within one lifecycle phase all providers are called concurrently; no
// ordering holds between providers of the same role.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// Role declares whether this provider is an entrypoint or an injection.
	Role() Role

	Prepare(ctx context.Context, c *Container) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Kill(ctx context.Context, cause error) error
}

// Entrypoint is the contract for providers that trigger worker execution.
type Entrypoint interface {
	Provider

	// MethodName is the service method this entrypoint fires.
	MethodName() string
}

// Injection is the contract for providers that supply a resource to workers.
// Inject runs before the call, WorkerResult after it (with the captured
// result or call error) and Release last, on every exit path.
type Injection interface {
	Provider

	Inject(wc *WorkerContext) error
	WorkerResult(wc *WorkerContext, result any, callErr error) error
	Release(wc *WorkerContext) error
}

// WorkerObserver is an optional interface for providers of either role that
// want the per-worker setup and teardown hooks. Setup runs after injections
// are attached and before the call; teardown runs after WorkerResult and
// before Release.
type WorkerObserver interface {
	WorkerSetup(wc *WorkerContext) error
	WorkerTeardown(wc *WorkerContext) error
}

// providerSet fans an operation out to every provider concurrently and joins
// before returning. Errors from individual providers are collected, not
// short-circuited; one misbehaving provider must not hide the others.
type providerSet []Provider

func (s providerSet) each(fn func(Provider) error) error {
	if len(s) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, p := range s {
		p := p

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(p); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return errs
}

func (s providerSet) prepare(ctx context.Context, c *Container) error {
	return s.each(func(p Provider) error { return p.Prepare(ctx, c) })
}

func (s providerSet) start(ctx context.Context) error {
	return s.each(func(p Provider) error { return p.Start(ctx) })
}

func (s providerSet) stop(ctx context.Context) error {
	return s.each(func(p Provider) error { return p.Stop(ctx) })
}

func (s providerSet) kill(ctx context.Context, cause error) error {
	return s.each(func(p Provider) error { return p.Kill(ctx, cause) })
}

func (s providerSet) workerSetup(wc *WorkerContext) error {
	return s.each(func(p Provider) error {
		if o, ok := p.(WorkerObserver); ok {
			return o.WorkerSetup(wc)
		}

		return nil
	})
}

func (s providerSet) workerTeardown(wc *WorkerContext) error {
	return s.each(func(p Provider) error {
		if o, ok := p.(WorkerObserver); ok {
			return o.WorkerTeardown(wc)
		}

		return nil
	})
}

// injectionSet fans the per-worker injection hooks out concurrently.
type injectionSet []Injection

func (s injectionSet) each(fn func(Injection) error) error {
	if len(s) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, inj := range s {
		inj := inj

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(inj); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return errs
}

func (s injectionSet) stop(ctx context.Context) error {
	return s.each(func(i Injection) error { return i.Stop(ctx) })
}

func (s injectionSet) inject(wc *WorkerContext) error {
	return s.each(func(i Injection) error { return i.Inject(wc) })
}

func (s injectionSet) workerResult(wc *WorkerContext, result any, callErr error) error {
	return s.each(func(i Injection) error { return i.WorkerResult(wc, result, callErr) })
}

func (s injectionSet) release(wc *WorkerContext) error {
	return s.each(func(i Injection) error { return i.Release(wc) })
}
