package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var _ appfiscal.QueueTxRunner = (*TxRunner)(nil)
var _ appfiscal.CertificateTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunQueue inicia una transacción con repos de cola y comprobantes (sending→sent + comprobante).
func (r *TxRunner) RunQueue(ctx context.Context, fn func(
	queueRepo repository.QueueRepository,
	receiptRepo repository.ReceiptRepository,
) error) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return fn(NewQueueRepository(tx), NewReceiptRepository(tx))
	})
}

// RunCertificates serializa enrolamiento y anulación por (tenant, ambiente) con un advisory lock
// de transacción; el lock se libera con el commit o el rollback.
func (r *TxRunner) RunCertificates(ctx context.Context, tenantID, environment string, fn func(
	certRepo repository.CertificateRepository,
) error) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID+"|"+environment); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return fn(NewCertificateRepository(tx))
	})
}

// inTx hace Commit si fn no falla; Rollback en cualquier otro caso.
func (r *TxRunner) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
