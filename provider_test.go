package kiln

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type countingProvider struct {
	*BaseProvider
	starts  atomic.Int32
	stopErr error
}

func (p *countingProvider) Start(ctx context.Context) error {
	p.starts.Add(1)

	return nil
}

func (p *countingProvider) Stop(ctx context.Context) error { return p.stopErr }

func (p *countingProvider) Inject(wc *WorkerContext) error { return nil }

func (p *countingProvider) WorkerResult(wc *WorkerContext, result any, callErr error) error {
	return nil
}

func (p *countingProvider) Release(wc *WorkerContext) error { return nil }

func TestProviderSetFansOutToAll(t *testing.T) {
	a := &countingProvider{BaseProvider: NewBaseProvider("a", RoleInjection)}
	b := &countingProvider{BaseProvider: NewBaseProvider("b", RoleInjection)}
	set := providerSet{a, b}

	require.NoError(t, set.start(context.Background()))
	assert.Equal(t, int32(1), a.starts.Load())
	assert.Equal(t, int32(1), b.starts.Load())
}

func TestProviderSetCollectsAllErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	a := &countingProvider{BaseProvider: NewBaseProvider("a", RoleInjection), stopErr: errA}
	b := &countingProvider{BaseProvider: NewBaseProvider("b", RoleInjection), stopErr: errB}
	ok := &countingProvider{BaseProvider: NewBaseProvider("ok", RoleInjection)}
	set := providerSet{a, b, ok}

	err := set.stop(context.Background())
	require.Error(t, err)

	// One failing provider must not hide the other.
	collected := multierr.Errors(err)
	assert.Len(t, collected, 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestProviderSetEmptyIsNoop(t *testing.T) {
	var set providerSet

	require.NoError(t, set.start(context.Background()))
	require.NoError(t, set.kill(context.Background(), errors.New("cause")))
}

func TestBaseProviderBindsOnPrepare(t *testing.T) {
	p := NewBaseProvider("queue", RoleInjection)
	assert.Equal(t, "queue", p.Name())
	assert.Equal(t, RoleInjection, p.Role())
	assert.Nil(t, p.Container())
	assert.NotNil(t, p.Logger(), "logger is usable before prepare")

	c := mustContainer(t, "svc", func() any { return &slowService{} }, nil, nil)
	require.NoError(t, p.Prepare(context.Background(), c))
	assert.Equal(t, c, p.Container())
}
