package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

var _ repository.ReceiptRepository = (*ReceiptRepo)(nil)

// ReceiptRepo comprobantes en fiscal_receipts. No hay UPDATE ni DELETE.
type ReceiptRepo struct {
	q Querier
}

// NewReceiptRepository construye el adaptador. Pasar pool o tx (Querier).
func NewReceiptRepository(q Querier) *ReceiptRepo {
	return &ReceiptRepo{q: q}
}

const receiptColumns = `id, queue_item_id, tenant_id, order_id, registry_transaction_id, qr_data,
	print_mode, print_format, created_at`

func (r *ReceiptRepo) Create(ctx context.Context, rec *entity.ReceiptRecord) error {
	query := `
		INSERT INTO fiscal_receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		rec.ID, rec.QueueItemID, rec.TenantID, rec.OrderID, rec.RegistryTransactionID,
		nullIfEmpty(rec.QRData), string(rec.PrintMode), nullIfEmpty(string(rec.PrintFormat)), rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("receipt for %s: %w", rec.QueueItemID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (r *ReceiptRepo) GetByOrderID(ctx context.Context, tenantID, orderID string) (*entity.ReceiptRecord, error) {
	query := `SELECT ` + receiptColumns + `
		FROM fiscal_receipts
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at DESC
		LIMIT 1`
	return r.one(ctx, query, tenantID, orderID)
}

func (r *ReceiptRepo) GetByQueueItemID(ctx context.Context, queueItemID string) (*entity.ReceiptRecord, error) {
	query := `SELECT ` + receiptColumns + ` FROM fiscal_receipts WHERE queue_item_id = $1`
	return r.one(ctx, query, queueItemID)
}

func (r *ReceiptRepo) one(ctx context.Context, query string, args ...any) (*entity.ReceiptRecord, error) {
	var rec entity.ReceiptRecord
	var qrData, printFormat *string
	var printMode string
	err := r.q.QueryRow(ctx, query, args...).Scan(
		&rec.ID, &rec.QueueItemID, &rec.TenantID, &rec.OrderID, &rec.RegistryTransactionID,
		&qrData, &printMode, &printFormat, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	rec.QRData = derefString(qrData)
	rec.PrintMode = fiscal.PrintMode(printMode)
	rec.PrintFormat = fiscal.PrintFormat(derefString(printFormat))
	return &rec, nil
}
