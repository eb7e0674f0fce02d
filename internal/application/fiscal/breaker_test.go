package fiscal_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/memory"
)

func buildTestBreaker(threshold int) (*appfiscal.CircuitBreaker, *fakeClock) {
	clock := newClock()
	cb := appfiscal.NewCircuitBreaker(memory.NewBreakerStore(), appfiscal.BreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
	}, nil, zerolog.Nop()).WithClock(clock.Now)
	return cb, clock
}

func stateOf(t *testing.T, cb *appfiscal.CircuitBreaker, endpoint string) *entity.CircuitBreakerState {
	t.Helper()
	states, err := cb.States(context.Background())
	require.NoError(t, err)
	for _, s := range states {
		if s.Endpoint == endpoint {
			return s
		}
	}
	t.Fatalf("sin estado para %s", endpoint)
	return nil
}

func TestCircuitBreaker_AbreAlUmbral(t *testing.T) {
	cb, _ := buildTestBreaker(3)
	ctx := context.Background()
	ep := entity.EndpointTransactions

	for i := 0; i < 3; i++ {
		p, err := cb.Acquire(ctx, ep)
		require.NoError(t, err, "intento %d", i+1)
		assert.False(t, p.Probe)
		require.NoError(t, cb.Failure(ctx, p))
	}
	assert.Equal(t, entity.BreakerOpen, stateOf(t, cb, ep).State)

	_, err := cb.Acquire(ctx, ep)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)

	_, err = cb.Acquire(ctx, entity.EndpointClosings)
	assert.NoError(t, err, "los endpoints son independientes")
}

func TestCircuitBreaker_ExitoReiniciaContador(t *testing.T) {
	cb, _ := buildTestBreaker(3)
	ctx := context.Background()
	ep := entity.EndpointTransactions

	for i := 0; i < 2; i++ {
		p, _ := cb.Acquire(ctx, ep)
		require.NoError(t, cb.Failure(ctx, p))
	}
	p, _ := cb.Acquire(ctx, ep)
	require.NoError(t, cb.Success(ctx, p))
	assert.Equal(t, 0, stateOf(t, cb, ep).ConsecutiveFailures)

	for i := 0; i < 2; i++ {
		p, _ := cb.Acquire(ctx, ep)
		require.NoError(t, cb.Failure(ctx, p))
	}
	assert.Equal(t, entity.BreakerClosed, stateOf(t, cb, ep).State)
}

func TestCircuitBreaker_PruebaUnica(t *testing.T) {
	cb, clock := buildTestBreaker(1)
	ctx := context.Background()
	ep := entity.EndpointTransactions

	p, _ := cb.Acquire(ctx, ep)
	require.NoError(t, cb.Failure(ctx, p))

	clock.Advance(30 * time.Second)
	_, err := cb.Acquire(ctx, ep)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen, "cooldown sin cumplir")

	clock.Advance(31 * time.Second)

	var (
		granted atomic.Int32
		probe   appfiscal.Permit
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pp, err := cb.Acquire(ctx, ep)
			if err == nil {
				granted.Add(1)
				mu.Lock()
				probe = pp
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), granted.Load(), "exactamente una prueba en HALF_OPEN")
	assert.True(t, probe.Probe)
	assert.Equal(t, entity.BreakerHalfOpen, stateOf(t, cb, ep).State)

	require.NoError(t, cb.Success(ctx, probe))
	assert.Equal(t, entity.BreakerClosed, stateOf(t, cb, ep).State)
	_, err = cb.Acquire(ctx, ep)
	assert.NoError(t, err)
}

func TestCircuitBreaker_PruebaFallidaReabre(t *testing.T) {
	cb, clock := buildTestBreaker(1)
	ctx := context.Background()
	ep := entity.EndpointClosings

	p, _ := cb.Acquire(ctx, ep)
	require.NoError(t, cb.Failure(ctx, p))
	clock.Advance(time.Minute)

	probe, err := cb.Acquire(ctx, ep)
	require.NoError(t, err)
	require.True(t, probe.Probe)
	require.NoError(t, cb.Failure(ctx, probe))

	st := stateOf(t, cb, ep)
	assert.Equal(t, entity.BreakerOpen, st.State)
	require.NotNil(t, st.OpenedAt)
	assert.Equal(t, clock.Now(), *st.OpenedAt, "opened_at se reinicia")
}

func TestCircuitBreaker_ReleaseLiberaPrueba(t *testing.T) {
	cb, clock := buildTestBreaker(1)
	ctx := context.Background()
	ep := entity.EndpointTransactions

	p, _ := cb.Acquire(ctx, ep)
	require.NoError(t, cb.Failure(ctx, p))
	clock.Advance(time.Minute)

	probe, err := cb.Acquire(ctx, ep)
	require.NoError(t, err)
	require.NoError(t, cb.Release(ctx, probe))

	again, err := cb.Acquire(ctx, ep)
	require.NoError(t, err, "la prueba liberada se vuelve a conceder")
	assert.True(t, again.Probe)
}

func TestCircuitBreaker_ExitoTardioNoCierra(t *testing.T) {
	cb, _ := buildTestBreaker(1)
	ctx := context.Background()
	ep := entity.EndpointTransactions

	early, _ := cb.Acquire(ctx, ep)
	late, _ := cb.Acquire(ctx, ep)
	require.NoError(t, cb.Failure(ctx, early))
	require.Equal(t, entity.BreakerOpen, stateOf(t, cb, ep).State)

	require.NoError(t, cb.Success(ctx, late))
	assert.Equal(t, entity.BreakerOpen, stateOf(t, cb, ep).State)
}
