// Package timer provides an entrypoint that fires a service method on a
// fixed interval or a cron schedule.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kilnworks/kiln"
)

// Options configure a timer entrypoint.
type Options struct {
	// Interval fires the method at a fixed delay between ticks. Mutually
	// exclusive with Schedule.
	Interval time.Duration

	// Schedule is a standard five-field cron expression, or a descriptor such
	// as "@hourly" or "@every 90s". Mutually exclusive with Interval.
	Schedule string

	// Eager fires the first tick immediately instead of waiting one interval.
	Eager bool

	// Args are the positional arguments passed to the service method on every
	// tick.
	Args []any
}

// Provider fires a service method on a schedule. Each tick spawns one worker
// through the container; ticks respect the container's worker-pool
// backpressure, so a saturated pool delays ticks rather than piling up calls.
type Provider struct {
	*kiln.BaseProvider

	method   string
	schedule cron.Schedule
	eager    bool
	args     []any

	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}

	mu      sync.Mutex
	started bool
}

// intervalSchedule is a constant-delay cron.Schedule without the one-second
// floor of cron.Every, so short test intervals work.
type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(s)) }

// New creates a timer entrypoint for the given service method. Exactly one of
// Options.Interval and Options.Schedule must be set.
func New(method string, optFns ...func(*Options)) (*Provider, error) {
	if method == "" {
		return nil, errors.New("timer needs a method name")
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	var schedule cron.Schedule

	switch {
	case opts.Interval > 0 && opts.Schedule != "":
		return nil, errors.New("timer takes an interval or a schedule, not both")
	case opts.Interval > 0:
		schedule = intervalSchedule(opts.Interval)
	case opts.Schedule != "":
		parsed, err := cron.ParseStandard(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parsing timer schedule %q: %w", opts.Schedule, err)
		}

		schedule = parsed
	default:
		return nil, errors.New("timer needs an interval or a schedule")
	}

	return &Provider{
		BaseProvider: kiln.NewBaseProvider("timer."+method, kiln.RoleEntrypoint),
		method:       method,
		schedule:     schedule,
		eager:        opts.Eager,
		args:         opts.Args,
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}, nil
}

// WithInterval sets a fixed tick interval.
func WithInterval(d time.Duration) func(*Options) {
	return func(o *Options) { o.Interval = d }
}

// WithSchedule sets a cron expression.
func WithSchedule(spec string) func(*Options) {
	return func(o *Options) { o.Schedule = spec }
}

// WithEager fires the first tick immediately.
func WithEager() func(*Options) {
	return func(o *Options) { o.Eager = true }
}

// WithArgs sets the positional arguments passed on every tick.
func WithArgs(args ...any) func(*Options) {
	return func(o *Options) { o.Args = args }
}

// MethodName returns the service method this timer fires.
func (p *Provider) MethodName() string { return p.method }

// Start launches the tick loop as a managed task.
func (p *Provider) Start(ctx context.Context) error {
	c := p.Container()
	if c == nil {
		return errors.New("timer started before prepare")
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	return c.SpawnManaged("timer "+p.method, p.loop)
}

func (p *Provider) loop(ctx context.Context) error {
	defer close(p.stopped)

	// The container flips to running only after the start fan-out joins, so
	// an eager tick fired straight away would be dropped.
	for p.Container().State() == kiln.StateCreated {
		select {
		case <-ctx.Done():
			return nil
		case <-p.quit:
			return nil
		case <-time.After(time.Millisecond):
		}
	}

	now := time.Now()
	next := now
	if !p.eager {
		next = p.schedule.Next(now)
	}

	ticker := time.NewTimer(time.Until(next))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.quit:
			return nil
		case <-ticker.C:
		}

		p.fire()

		next = p.schedule.Next(time.Now())
		ticker.Reset(time.Until(next))
	}
}

// fire spawns one worker for this tick. Spawning blocks while the worker pool
// is saturated; a container that is shutting down drops the tick.
func (p *Provider) fire() {
	if _, err := p.Container().SpawnWorker(p, p.args, nil, nil); err != nil {
		if errors.Is(err, kiln.ErrNotRunning) {
			p.Logger().Debug("tick dropped, container not accepting work")

			return
		}

		p.Logger().Warn("tick failed to spawn worker", zap.Error(err))
	}
}

// Stop ends the tick loop and blocks until it has exited, so no new worker is
// spawned after Stop returns.
func (p *Provider) Stop(ctx context.Context) error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for timer %s to stop: %w", p.method, ctx.Err())
	}
}

// Kill ends the tick loop without waiting for it.
func (p *Provider) Kill(ctx context.Context, cause error) error {
	p.quitOnce.Do(func() { close(p.quit) })

	return nil
}
