package kiln

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Well-known call-scoped metadata keys propagated by the default context
// factory.
const (
	DataKeyLanguage  = "language"
	DataKeyUserID    = "user_id"
	DataKeyAuthToken = "auth_token"
)

// DefaultDataKeys is the metadata key set declared by DefaultContextFactory.
var DefaultDataKeys = []string{DataKeyLanguage, DataKeyUserID, DataKeyAuthToken}

// WorkerContext describes one service method call. It is created at spawn
// time and discarded when the worker completes; everything except the
// metadata mapping is immutable for the duration of the call.
type WorkerContext struct {
	// CallID uniquely identifies this call.
	CallID string

	// Method is the service method being invoked.
	Method string

	// Args are the positional call arguments.
	Args []any

	container *Container
	service   any
	dataKeys  []string

	mu   sync.RWMutex
	data map[string]any
}

// ContextFactory builds the worker context for one call. Entrypoint stacks
// that propagate additional metadata supply their own factory declaring the
// extra keys.
type ContextFactory func(c *Container, service any, method string, args []any, data map[string]any) *WorkerContext

// DefaultContextFactory builds a worker context with DefaultDataKeys.
func DefaultContextFactory(c *Container, service any, method string, args []any, data map[string]any) *WorkerContext {
	return NewWorkerContext(c, service, method, args, data, DefaultDataKeys)
}

// NewWorkerContext creates a worker context with an explicit metadata key
// set. The data map is copied.
func NewWorkerContext(c *Container, service any, method string, args []any, data map[string]any, dataKeys []string) *WorkerContext {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}

	return &WorkerContext{
		CallID:    uuid.NewString(),
		Method:    method,
		Args:      args,
		container: c,
		service:   service,
		dataKeys:  dataKeys,
		data:      copied,
	}
}

// Container returns the container running this worker. The context does not
// own the container.
func (wc *WorkerContext) Container() *Container { return wc.container }

// Service returns the fresh service instance created for this call.
func (wc *WorkerContext) Service() any { return wc.service }

// Config returns the container's configuration mapping.
func (wc *WorkerContext) Config() Config { return wc.container.Config() }

// Data returns the metadata value stored under key.
func (wc *WorkerContext) Data(key string) (any, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	v, ok := wc.data[key]

	return v, ok
}

// SetData stores call-scoped metadata. Providers may call this from their
// per-worker hooks.
func (wc *WorkerContext) SetData(key string, value any) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.data[key] = value
}

// DataKeys returns the metadata keys declared by this context's factory.
func (wc *WorkerContext) DataKeys() []string { return wc.dataKeys }

// PropagatedData returns the subset of metadata under declared keys, for
// transport providers forwarding call context to downstream services.
func (wc *WorkerContext) PropagatedData() map[string]any {
	wc.mu.RLock()
	defer wc.mu.RUnlock()

	out := make(map[string]any, len(wc.dataKeys))

	for _, k := range wc.dataKeys {
		if v, ok := wc.data[k]; ok {
			out[k] = v
		}
	}

	return out
}

func (wc *WorkerContext) String() string {
	return fmt.Sprintf("%s.%s [%s]", wc.container.Name(), wc.Method, wc.CallID)
}

// ResultHandler is an optional callback supplied by the triggering
// entrypoint; it receives the call outcome before injections observe it,
// letting protocol-specific entrypoints serialize a reply.
type ResultHandler func(wc *WorkerContext, result any, callErr error) error

// runWorker executes the worker protocol for one call. Call errors are
// captured and reported, never returned; a non-nil return means an
// infrastructure failure in a provider hook or the result handler, which the
// managed-task exit handler escalates to container kill. Injected resources
// are released on every exit path past the inject step.
func (c *Container) runWorker(ctx context.Context, wc *WorkerContext, handleResult ResultHandler) (err error) {
	c.logger.Debug("setting up worker", zap.Stringer("worker", wc))

	if injErr := c.injections.inject(wc); injErr != nil {
		return fmt.Errorf("injecting into worker %s: %w", wc, injErr)
	}

	defer func() {
		c.logger.Debug("releasing worker", zap.Stringer("worker", wc))

		if relErr := c.injections.release(wc); relErr != nil && err == nil {
			err = fmt.Errorf("releasing worker %s: %w", wc, relErr)
		}
	}()

	if setupErr := c.providers.workerSetup(wc); setupErr != nil {
		return fmt.Errorf("worker setup for %s: %w", wc, setupErr)
	}

	c.logger.Debug("calling handler", zap.Stringer("worker", wc))

	result, callErr := invokeServiceMethod(ctx, wc.service, wc.Method, wc.Args)
	if callErr != nil {
		c.logWorkerError(wc, callErr)
	}

	if handleResult != nil {
		c.logger.Debug("handling result", zap.Stringer("worker", wc))

		if hErr := handleResult(wc, result, callErr); hErr != nil {
			return fmt.Errorf("result handler for %s: %w", wc, hErr)
		}
	}

	c.logger.Debug("signalling result", zap.Stringer("worker", wc))

	if resErr := c.injections.workerResult(wc, result, callErr); resErr != nil {
		return fmt.Errorf("worker result for %s: %w", wc, resErr)
	}

	c.logger.Debug("tearing down worker", zap.Stringer("worker", wc))

	if tdErr := c.providers.workerTeardown(wc); tdErr != nil {
		return fmt.Errorf("worker teardown for %s: %w", wc, tdErr)
	}

	return nil
}

// logWorkerError logs a captured call error. Remote errors are classified
// distinctly but handled identically.
func (c *Container) logWorkerError(wc *WorkerContext, callErr error) {
	var remote *RemoteError
	if errors.As(callErr, &remote) {
		c.logger.Error("error handling worker",
			zap.Stringer("worker", wc),
			zap.String("remote_type", remote.ExcType),
			zap.Error(callErr),
		)

		return
	}

	c.logger.Error("error handling worker",
		zap.Stringer("worker", wc),
		zap.Error(callErr),
	)
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// invokeServiceMethod calls the named exported method on the service instance
// with positional arguments, net/rpc style. If the method's first parameter
// is a context.Context the worker's context is passed there. Return shapes
// understood: none, (T), (error), (T, error). Panics in the method body are
// captured as call errors.
func invokeServiceMethod(ctx context.Context, service any, name string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in method %s: %v", name, r)
		}
	}()

	method := reflect.ValueOf(service).MethodByName(name)
	if !method.IsValid() {
		return nil, fmt.Errorf("service %T has no method %q", service, name)
	}

	mt := method.Type()
	in := make([]reflect.Value, 0, mt.NumIn())
	argIdx := 0

	for i := 0; i < mt.NumIn(); i++ {
		pt := mt.In(i)

		if i == 0 && pt == contextType {
			in = append(in, reflect.ValueOf(ctx))

			continue
		}

		if argIdx >= len(args) {
			return nil, fmt.Errorf("method %s wants %d args, got %d", name, mt.NumIn(), len(args))
		}

		arg := args[argIdx]
		argIdx++

		if arg == nil {
			in = append(in, reflect.Zero(pt))

			continue
		}

		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(pt) {
			if !av.Type().ConvertibleTo(pt) {
				return nil, fmt.Errorf("method %s arg %d: cannot use %T as %s", name, argIdx, arg, pt)
			}

			av = av.Convert(pt)
		}

		in = append(in, av)
	}

	if argIdx != len(args) {
		return nil, fmt.Errorf("method %s wants %d args, got %d", name, argIdx, len(args))
	}

	out := method.Call(in)

	return splitReturn(out)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// splitReturn separates a method's return values into (result, error).
func splitReturn(out []reflect.Value) (any, error) {
	var (
		result any
		err    error
	)

	for i, v := range out {
		if i == len(out)-1 && v.Type().Implements(errorType) {
			if !v.IsNil() {
				err = v.Interface().(error)
			}

			continue
		}

		if result == nil {
			result = v.Interface()
		}
	}

	return result, err
}
