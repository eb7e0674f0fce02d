package repository

import (
	"context"
	"time"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// QueueFailure cambios a aplicar cuando una entrega falla.
type QueueFailure struct {
	Status        string // failed | failed_permanent
	RetryCount    int
	LastError     string
	NextAttemptAt *time.Time
	At            time.Time
}

// QueueRepository define el puerto de persistencia de la cola de envío al registro fiscal.
// Las transiciones desde sending exigen el claim_token vigente: si el ítem ya no está en
// sending con ese token, devuelven domain.ErrConflict y no modifican nada.
type QueueRepository interface {
	// Create inserta un ítem pending. Devuelve domain.ErrDuplicate si ya existe
	// (tenant, endpoint, order_id, action).
	Create(ctx context.Context, item *entity.TransactionQueueItem) error
	// FindByKey busca por la llave de idempotencia; domain.ErrNotFound si no existe.
	FindByKey(ctx context.Context, tenantID, endpoint, orderID string, action fiscal.Action) (*entity.TransactionQueueItem, error)
	GetByID(ctx context.Context, id string) (*entity.TransactionQueueItem, error)
	// Claim toma atómicamente el ítem elegible más antiguo del endpoint y lo pasa a sending.
	// Devuelve (nil, nil) si no hay nada que entregar.
	Claim(ctx context.Context, endpoint, token string, now, leaseUntil time.Time) (*entity.TransactionQueueItem, error)
	MarkSent(ctx context.Context, id, token string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, token string, f QueueFailure) error
	// Release devuelve un ítem reclamado a pending sin tocar retry_count (no hubo intento).
	Release(ctx context.Context, id, token string, now time.Time) error
	// ListExpiredClaims ítems en sending cuyo lease venció antes de now.
	ListExpiredClaims(ctx context.Context, now time.Time) ([]*entity.TransactionQueueItem, error)
	// Requeue failed_permanent → pending con retry_count en cero; domain.ErrConflict en otro estado.
	Requeue(ctx context.Context, id string, now time.Time) error
	// CountByStatus y ListByStatus filtran por tenant; tenantID vacío = todos los tenants.
	CountByStatus(ctx context.Context, tenantID string) (map[string]int, error)
	ListByStatus(ctx context.Context, tenantID, status string, limit int) ([]*entity.TransactionQueueItem, error)
}
