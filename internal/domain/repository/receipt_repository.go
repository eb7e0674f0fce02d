package repository

import (
	"context"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// ReceiptRepository comprobantes del registro (solo inserción y lectura).
type ReceiptRepository interface {
	Create(ctx context.Context, receipt *entity.ReceiptRecord) error
	// GetByOrderID devuelve el comprobante más reciente de la orden.
	GetByOrderID(ctx context.Context, tenantID, orderID string) (*entity.ReceiptRecord, error)
	GetByQueueItemID(ctx context.Context, queueItemID string) (*entity.ReceiptRecord, error)
}
