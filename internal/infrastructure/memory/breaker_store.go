package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var _ repository.BreakerStore = (*BreakerStore)(nil)

// BreakerStore estado de los breakers del proceso.
type BreakerStore struct {
	mu     sync.Mutex
	states map[string]*entity.CircuitBreakerState
}

// NewBreakerStore crea un store vacío (todos los endpoints CLOSED).
func NewBreakerStore() *BreakerStore {
	return &BreakerStore{states: make(map[string]*entity.CircuitBreakerState)}
}

// Update aplica fn sobre una copia y la guarda solo si fn no falla.
func (s *BreakerStore) Update(_ context.Context, endpoint string, fn func(*entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[endpoint]
	if !ok {
		cur = entity.NewCircuitBreakerState(endpoint)
	}
	next := cloneBreaker(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.states[endpoint] = next
	return cloneBreaker(next), nil
}

func (s *BreakerStore) Get(_ context.Context, endpoint string) (*entity.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[endpoint]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBreaker(st), nil
}

func (s *BreakerStore) List(_ context.Context) ([]*entity.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.CircuitBreakerState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, cloneBreaker(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func cloneBreaker(b *entity.CircuitBreakerState) *entity.CircuitBreakerState {
	c := *b
	c.OpenedAt = cloneTime(b.OpenedAt)
	c.ProbeStartedAt = cloneTime(b.ProbeStartedAt)
	return &c
}
