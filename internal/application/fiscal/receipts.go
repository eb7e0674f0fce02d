package fiscal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

// ReceiptRenderer representación imprimible de un comprobante aceptado por el registro.
type ReceiptRenderer interface {
	RenderTransaction(ctx context.Context, rec *entity.ReceiptRecord, req *entity.TransactionRequest) ([]byte, error)
	RenderClosing(ctx context.Context, rec *entity.ReceiptRecord, req *entity.ClosingReceiptRequest) ([]byte, error)
}

// ReceiptService consulta comprobantes y genera su PDF a partir del cuerpo firmado que se entregó.
type ReceiptService struct {
	receipts repository.ReceiptRepository
	queue    repository.QueueRepository
	renderer ReceiptRenderer
}

// NewReceiptService construye el servicio. renderer puede ser nil si no se sirve PDF.
func NewReceiptService(receipts repository.ReceiptRepository, queue repository.QueueRepository, renderer ReceiptRenderer) *ReceiptService {
	return &ReceiptService{receipts: receipts, queue: queue, renderer: renderer}
}

// Get comprobante más reciente de la orden del tenant.
func (s *ReceiptService) Get(ctx context.Context, tenantID, orderID string) (*entity.ReceiptRecord, error) {
	return s.receipts.GetByOrderID(ctx, tenantID, orderID)
}

// PDF devuelve (bytes, nombre de archivo). El contenido sale del ítem de cola entregado,
// así el PDF refleja exactamente lo que aceptó el registro.
func (s *ReceiptService) PDF(ctx context.Context, tenantID, orderID string) ([]byte, string, error) {
	if s.renderer == nil {
		return nil, "", fmt.Errorf("%w: generación de PDF no configurada", domain.ErrInvalidInput)
	}
	rec, err := s.receipts.GetByOrderID(ctx, tenantID, orderID)
	if err != nil {
		return nil, "", err
	}
	item, err := s.queue.GetByID(ctx, rec.QueueItemID)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: ítem de cola %s: %w", rec.QueueItemID, err)
	}
	env, err := Envelope(item)
	if err != nil {
		return nil, "", err
	}

	var doc []byte
	switch item.Kind {
	case entity.QueueKindClosing:
		var req entity.ClosingReceiptRequest
		if err := json.Unmarshal(env.Body, &req); err != nil {
			return nil, "", fmt.Errorf("pdf: decodificar cierre: %w", err)
		}
		doc, err = s.renderer.RenderClosing(ctx, rec, &req)
	default:
		var req entity.TransactionRequest
		if err := json.Unmarshal(env.Body, &req); err != nil {
			return nil, "", fmt.Errorf("pdf: decodificar transacción: %w", err)
		}
		doc, err = s.renderer.RenderTransaction(ctx, rec, &req)
	}
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}
	return doc, fmt.Sprintf("comprobante_%s.pdf", rec.RegistryTransactionID), nil
}
