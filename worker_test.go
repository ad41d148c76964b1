package kiln

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kilnworks/kiln/logger"
)

type invokeTarget struct {
	gotCtx  context.Context
	touched bool
}

func (s *invokeTarget) Add(a, b int) int { return a + b }

func (s *invokeTarget) Greet(ctx context.Context, name string) (string, error) {
	s.gotCtx = ctx

	return "hello " + name, nil
}

func (s *invokeTarget) Fail() error { return errBoom }

func (s *invokeTarget) Touch() { s.touched = true }

func (s *invokeTarget) Explode() { panic("no good") }

func (s *invokeTarget) Widen(n int64) int64 { return n * 2 }

func (s *invokeTarget) Pointer(p *invokeTarget) bool { return p == nil }

func TestInvokeServiceMethod(t *testing.T) {
	ctx := context.Background()

	t.Run("plain args and result", func(t *testing.T) {
		result, err := invokeServiceMethod(ctx, &invokeTarget{}, "Add", []any{2, 3})
		require.NoError(t, err)
		assert.Equal(t, 5, result)
	})

	t.Run("context parameter receives worker context", func(t *testing.T) {
		svc := &invokeTarget{}
		result, err := invokeServiceMethod(ctx, svc, "Greet", []any{"world"})
		require.NoError(t, err)
		assert.Equal(t, "hello world", result)
		assert.Equal(t, ctx, svc.gotCtx)
	})

	t.Run("error-only return", func(t *testing.T) {
		result, err := invokeServiceMethod(ctx, &invokeTarget{}, "Fail", nil)
		require.ErrorIs(t, err, errBoom)
		assert.Nil(t, result)
	})

	t.Run("no return values", func(t *testing.T) {
		svc := &invokeTarget{}
		result, err := invokeServiceMethod(ctx, svc, "Touch", nil)
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.True(t, svc.touched)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := invokeServiceMethod(ctx, &invokeTarget{}, "Missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no method")
	})

	t.Run("too few args", func(t *testing.T) {
		_, err := invokeServiceMethod(ctx, &invokeTarget{}, "Add", []any{1})
		require.Error(t, err)
	})

	t.Run("too many args", func(t *testing.T) {
		_, err := invokeServiceMethod(ctx, &invokeTarget{}, "Add", []any{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("convertible argument", func(t *testing.T) {
		result, err := invokeServiceMethod(ctx, &invokeTarget{}, "Widen", []any{int(21)})
		require.NoError(t, err)
		assert.Equal(t, int64(42), result)
	})

	t.Run("unconvertible argument", func(t *testing.T) {
		_, err := invokeServiceMethod(ctx, &invokeTarget{}, "Add", []any{"x", "y"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot use")
	})

	t.Run("nil argument becomes zero value", func(t *testing.T) {
		result, err := invokeServiceMethod(ctx, &invokeTarget{}, "Pointer", []any{nil})
		require.NoError(t, err)
		assert.Equal(t, true, result)
	})

	t.Run("panic captured as call error", func(t *testing.T) {
		_, err := invokeServiceMethod(ctx, &invokeTarget{}, "Explode", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no good")
	})
}

func TestWorkerContextMetadata(t *testing.T) {
	c := mustContainer(t, "meta", func() any { return &invokeTarget{} }, nil, Config{"region": "eu"})

	data := map[string]any{DataKeyLanguage: "de", "trace": "abc"}
	wc := NewWorkerContext(c, &invokeTarget{}, "Add", []any{1, 2}, data, DefaultDataKeys)

	assert.NotEmpty(t, wc.CallID)
	assert.Equal(t, "Add", wc.Method)
	assert.Equal(t, c, wc.Container())
	assert.Equal(t, Config{"region": "eu"}, wc.Config())
	assert.Equal(t, DefaultDataKeys, wc.DataKeys())

	// The context copies the caller's map.
	data["trace"] = "mutated"
	v, ok := wc.Data("trace")
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	wc.SetData(DataKeyUserID, "u-9")
	assert.Equal(t, map[string]any{DataKeyLanguage: "de", DataKeyUserID: "u-9"}, wc.PropagatedData())

	assert.Contains(t, wc.String(), "meta.Add")
	assert.Contains(t, wc.String(), wc.CallID)
}

func TestContextFactoryOverride(t *testing.T) {
	custom := func(c *Container, service any, method string, args []any, data map[string]any) *WorkerContext {
		return NewWorkerContext(c, service, method, args, data, []string{"tenant"})
	}

	entrypoint := newTestEntrypoint("Touch", nil)

	c, err := NewContainer("tenanted", func() any { return &invokeTarget{} }, []Provider{entrypoint},
		nil, func(o *ContainerOptions) { o.ContextFactory = custom })
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	done := make(chan *WorkerContext, 1)
	handler := func(wc *WorkerContext, result any, callErr error) error {
		done <- wc

		return nil
	}

	_, err = c.SpawnWorker(entrypoint, nil, map[string]any{"tenant": "acme", DataKeyLanguage: "en"}, handler)
	require.NoError(t, err)

	wc := <-done
	assert.Equal(t, map[string]any{"tenant": "acme"}, wc.PropagatedData())

	require.NoError(t, c.Stop(context.Background()))
}

type remoteService struct{}

func (s *remoteService) Call() error {
	return NewRemoteError("ValueError", "bad input")
}

func TestRemoteErrorLoggedWithType(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	log := logger.FromZap(zap.New(core))

	entrypoint := newTestEntrypoint("Call", nil)

	c, err := NewContainer("remote", func() any { return &remoteService{} }, []Provider{entrypoint},
		nil, func(o *ContainerOptions) { o.Logger = log })
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	handled := make(chan error, 1)
	handler := func(wc *WorkerContext, result any, callErr error) error {
		handled <- callErr

		return nil
	}

	_, err = c.SpawnWorker(entrypoint, nil, nil, handler)
	require.NoError(t, err)

	callErr := <-handled

	var remote *RemoteError
	require.ErrorAs(t, callErr, &remote)
	assert.Equal(t, "ValueError", remote.ExcType)

	require.NoError(t, c.Stop(context.Background()))

	entries := observed.FilterMessage("error handling worker").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "ValueError", entries[0].ContextMap()["remote_type"])

	// A remote error is classified, not escalated.
	require.NoError(t, c.Wait())
}
