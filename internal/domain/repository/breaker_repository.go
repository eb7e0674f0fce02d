package repository

import (
	"context"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// BreakerStore guarda el estado de los circuit breakers por endpoint.
// Update es un read-modify-write atómico por llave: fn recibe el estado actual (o uno CLOSED
// nuevo si no existe) y lo muta; si fn devuelve error no se persiste nada.
type BreakerStore interface {
	Update(ctx context.Context, endpoint string, fn func(state *entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error)
	Get(ctx context.Context, endpoint string) (*entity.CircuitBreakerState, error)
	List(ctx context.Context) ([]*entity.CircuitBreakerState, error)
}
