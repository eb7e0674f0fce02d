package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

// BreakerConfig umbral y cooldown del circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultBreakerConfig valores por defecto.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// Permit autorización de un intento de entrega. Probe=true si es la prueba única de HALF_OPEN;
// el resultado debe reportarse con el mismo Permit.
type Permit struct {
	Endpoint string
	Probe    bool
}

// CircuitBreaker protege cada endpoint del registro. El estado vive en un BreakerStore
// compartido para que todos los workers (y réplicas) vean lo mismo.
type CircuitBreaker struct {
	store   repository.BreakerStore
	cfg     BreakerConfig
	metrics Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewCircuitBreaker construye el breaker sobre el store dado.
func NewCircuitBreaker(store repository.BreakerStore, cfg BreakerConfig, metrics Metrics, log zerolog.Logger) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &CircuitBreaker{store: store, cfg: cfg, metrics: metrics, log: log, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Acquire pide permiso para entregar en endpoint. Devuelve domain.ErrCircuitOpen mientras el
// circuito esté abierto o mientras otra prueba de HALF_OPEN siga en curso.
func (cb *CircuitBreaker) Acquire(ctx context.Context, endpoint string) (Permit, error) {
	// camino rápido: CLOSED no necesita escribir
	if st, err := cb.store.Get(ctx, endpoint); err == nil && st.State == entity.BreakerClosed {
		return Permit{Endpoint: endpoint}, nil
	}

	var (
		allowed, probe bool
		before         string
	)
	st, err := cb.store.Update(ctx, endpoint, func(s *entity.CircuitBreakerState) error {
		before = s.State
		allowed, probe = s.Acquire(cb.now().UTC(), cb.cfg.Cooldown)
		if !allowed {
			return domain.ErrCircuitOpen
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCircuitOpen) {
			cb.metrics.SetBreakerState(endpoint, before)
			return Permit{}, fmt.Errorf("endpoint %s: %w", endpoint, domain.ErrCircuitOpen)
		}
		return Permit{}, fmt.Errorf("breaker %s: %w", endpoint, err)
	}
	cb.transition(endpoint, before, st)
	return Permit{Endpoint: endpoint, Probe: probe}, nil
}

// Success registra una entrega aceptada.
func (cb *CircuitBreaker) Success(ctx context.Context, p Permit) error {
	var before string
	st, err := cb.store.Update(ctx, p.Endpoint, func(s *entity.CircuitBreakerState) error {
		before = s.State
		s.OnSuccess(cb.now().UTC(), p.Probe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", p.Endpoint, err)
	}
	cb.transition(p.Endpoint, before, st)
	return nil
}

// Failure registra un fallo de entrega (timeout, transporte o rechazo).
func (cb *CircuitBreaker) Failure(ctx context.Context, p Permit) error {
	var before string
	st, err := cb.store.Update(ctx, p.Endpoint, func(s *entity.CircuitBreakerState) error {
		before = s.State
		s.OnFailure(cb.now().UTC(), cb.cfg.FailureThreshold, p.Probe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", p.Endpoint, err)
	}
	cb.transition(p.Endpoint, before, st)
	return nil
}

// Release devuelve un permiso que no se usó. Solo tiene efecto sobre la prueba de HALF_OPEN.
func (cb *CircuitBreaker) Release(ctx context.Context, p Permit) error {
	if !p.Probe {
		return nil
	}
	_, err := cb.store.Update(ctx, p.Endpoint, func(s *entity.CircuitBreakerState) error {
		s.ReleaseProbe(cb.now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", p.Endpoint, err)
	}
	return nil
}

// States estado de todos los endpoints conocidos; los que nunca fallaron aparecen CLOSED.
func (cb *CircuitBreaker) States(ctx context.Context) ([]*entity.CircuitBreakerState, error) {
	stored, err := cb.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listar breakers: %w", err)
	}
	seen := make(map[string]bool, len(stored))
	out := make([]*entity.CircuitBreakerState, 0, len(entity.Endpoints))
	for _, s := range stored {
		seen[s.Endpoint] = true
		out = append(out, s)
	}
	for _, ep := range entity.Endpoints {
		if !seen[ep] {
			out = append(out, entity.NewCircuitBreakerState(ep))
		}
	}
	return out, nil
}

func (cb *CircuitBreaker) transition(endpoint, before string, after *entity.CircuitBreakerState) {
	if after == nil {
		return
	}
	cb.metrics.SetBreakerState(endpoint, after.State)
	if before == after.State {
		return
	}
	ev := cb.log.Info()
	if after.State == entity.BreakerOpen {
		ev = cb.log.Error()
	}
	ev.Str("endpoint", endpoint).
		Str("breaker_state", after.State).
		Str("previous_state", before).
		Int("consecutive_failures", after.ConsecutiveFailures).
		Msg("cambio de estado del circuit breaker")
}
