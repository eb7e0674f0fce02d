package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

var _ repository.QueueRepository = (*QueueRepo)(nil)

// QueueRepo implementación de QueueRepository sobre fiscal_queue_items (usable con pool o tx).
type QueueRepo struct {
	q Querier
}

// NewQueueRepository construye el adaptador. Pasar pool o tx (Querier).
func NewQueueRepository(q Querier) *QueueRepo {
	return &QueueRepo{q: q}
}

const queueColumns = `id, tenant_id, order_id, kind, endpoint, action, payload, status, retry_count,
	last_error, next_attempt_at, claim_token, claimed_until, created_at, sent_at, updated_at`

// Create inserta el ítem pending; la llave única de idempotencia se traduce a ErrDuplicate.
func (r *QueueRepo) Create(ctx context.Context, item *entity.TransactionQueueItem) error {
	query := `
		INSERT INTO fiscal_queue_items (id, tenant_id, order_id, kind, endpoint, action, payload, status,
			retry_count, last_error, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		item.ID, item.TenantID, item.OrderID, item.Kind, item.Endpoint, string(item.Action), item.Payload,
		item.Status, item.RetryCount, item.LastError, item.NextAttemptAt, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("queue item %s/%s: %w", item.OrderID, item.Action, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func (r *QueueRepo) FindByKey(ctx context.Context, tenantID, endpoint, orderID string, action fiscal.Action) (*entity.TransactionQueueItem, error) {
	query := `SELECT ` + queueColumns + `
		FROM fiscal_queue_items
		WHERE tenant_id = $1 AND endpoint = $2 AND order_id = $3 AND action = $4`
	return r.one(ctx, query, tenantID, endpoint, orderID, string(action))
}

func (r *QueueRepo) GetByID(ctx context.Context, id string) (*entity.TransactionQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM fiscal_queue_items WHERE id = $1`
	return r.one(ctx, query, id)
}

// Claim toma el elegible más antiguo con SKIP LOCKED: dos workers nunca reciben el mismo ítem.
func (r *QueueRepo) Claim(ctx context.Context, endpoint, token string, now, leaseUntil time.Time) (*entity.TransactionQueueItem, error) {
	query := `
		UPDATE fiscal_queue_items
		SET status = 'sending', claim_token = $2, claimed_until = $4, updated_at = $3
		WHERE id = (
			SELECT id FROM fiscal_queue_items
			WHERE endpoint = $1
			  AND (status = 'pending'
			       OR (status = 'failed' AND (next_attempt_at IS NULL OR next_attempt_at <= $3)))
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns
	item, err := r.one(ctx, query, endpoint, token, now, leaseUntil)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return item, err
}

func (r *QueueRepo) MarkSent(ctx context.Context, id, token string, sentAt time.Time) error {
	query := `
		UPDATE fiscal_queue_items
		SET status = 'sent', sent_at = $3, next_attempt_at = NULL, claim_token = NULL,
		    claimed_until = NULL, updated_at = $3
		WHERE id = $1 AND status = 'sending' AND claim_token = $2`
	tag, err := r.q.Exec(ctx, query, id, token, sentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) MarkFailed(ctx context.Context, id, token string, f repository.QueueFailure) error {
	query := `
		UPDATE fiscal_queue_items
		SET status = $3, retry_count = $4, last_error = $5, next_attempt_at = $6,
		    claim_token = NULL, claimed_until = NULL, updated_at = $7
		WHERE id = $1 AND status = 'sending' AND claim_token = $2`
	tag, err := r.q.Exec(ctx, query, id, token, f.Status, f.RetryCount, f.LastError, f.NextAttemptAt, f.At)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) Release(ctx context.Context, id, token string, now time.Time) error {
	query := `
		UPDATE fiscal_queue_items
		SET status = 'pending', next_attempt_at = NULL, claim_token = NULL, claimed_until = NULL, updated_at = $3
		WHERE id = $1 AND status = 'sending' AND claim_token = $2`
	tag, err := r.q.Exec(ctx, query, id, token, now)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) ListExpiredClaims(ctx context.Context, now time.Time) ([]*entity.TransactionQueueItem, error) {
	query := `SELECT ` + queueColumns + `
		FROM fiscal_queue_items
		WHERE status = 'sending' AND claimed_until < $1
		ORDER BY claimed_until`
	return r.many(ctx, query, now)
}

func (r *QueueRepo) Requeue(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE fiscal_queue_items
		SET status = 'pending', retry_count = 0, next_attempt_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed_permanent'`
	tag, err := r.q.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *QueueRepo) CountByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*) FROM fiscal_queue_items
		WHERE ($1 = '' OR tenant_id = $1)
		GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int, len(entity.QueueStatuses))
	for _, s := range entity.QueueStatuses {
		out[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ListByStatus limit <= 0 devuelve todos (LIMIT NULL).
func (r *QueueRepo) ListByStatus(ctx context.Context, tenantID, status string, limit int) ([]*entity.TransactionQueueItem, error) {
	query := `SELECT ` + queueColumns + `
		FROM fiscal_queue_items
		WHERE status = $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY created_at
		LIMIT NULLIF($3, 0)`
	if limit < 0 {
		limit = 0
	}
	return r.many(ctx, query, status, tenantID, limit)
}

// missingOrConflict distingue un id inexistente de un ítem que ya no está reclamado con ese token.
func (r *QueueRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM fiscal_queue_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check queue item: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *QueueRepo) one(ctx context.Context, query string, args ...any) (*entity.TransactionQueueItem, error) {
	item, err := scanQueueItem(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) many(ctx context.Context, query string, args ...any) ([]*entity.TransactionQueueItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	var out []*entity.TransactionQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanQueueItem(row pgx.Row) (*entity.TransactionQueueItem, error) {
	var it entity.TransactionQueueItem
	var action string
	var claimToken *string
	err := row.Scan(
		&it.ID, &it.TenantID, &it.OrderID, &it.Kind, &it.Endpoint, &action, &it.Payload, &it.Status,
		&it.RetryCount, &it.LastError, &it.NextAttemptAt, &claimToken, &it.ClaimedUntil,
		&it.CreatedAt, &it.SentAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Action = fiscal.Action(action)
	it.ClaimToken = derefString(claimToken)
	return &it, nil
}
