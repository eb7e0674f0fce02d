package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	fiscalmap "github.com/jhoicas/fiscal-adapter/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// QueueConfig política de reintentos de la cola.
type QueueConfig struct {
	MaxRetries int           // al llegar a este número de fallos el ítem pasa a failed_permanent
	BaseDelay  time.Duration // espera tras el primer fallo
	MaxDelay   time.Duration // tope del backoff exponencial
	ClaimLease time.Duration // tiempo máximo de un ítem en sending antes de considerarse abandonado
}

// DefaultQueueConfig valores por defecto.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries: 5,
		BaseDelay:  30 * time.Second,
		MaxDelay:   30 * time.Minute,
		ClaimLease: 2 * time.Minute,
	}
}

// NewQueueItem datos de un request firmado a encolar.
type NewQueueItem struct {
	TenantID string
	OrderID  string
	Kind     string // transaction | closing
	Endpoint string
	Action   fiscal.Action
	Envelope *entity.Envelope
}

// ReceiptData datos que devuelve el registro al aceptar una entrega.
type ReceiptData struct {
	RegistryTransactionID string
	QRData                string
}

// Queue cola durable de entrega al registro fiscal.
//
//	pending → sending → sent
//	                  → failed → (backoff) → sending ...
//	                  → failed_permanent (reintentos agotados)
type Queue struct {
	repo    repository.QueueRepository
	tx      QueueTxRunner
	cfg     QueueConfig
	metrics Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewQueue construye la cola. tx agrupa el paso a sent y la creación del comprobante.
func NewQueue(repo repository.QueueRepository, tx QueueTxRunner, cfg QueueConfig, metrics Metrics, log zerolog.Logger) *Queue {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultQueueConfig().MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultQueueConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultQueueConfig().ClaimLease
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Queue{repo: repo, tx: tx, cfg: cfg, metrics: metrics, log: log, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Config política vigente.
func (q *Queue) Config() QueueConfig { return q.cfg }

// Enqueue persiste un ítem pending. Revalida el cuerpo firmado: nada que no pase la
// validación estructural entra a la cola. Un duplicado de (tenant, endpoint, orden, acción)
// devuelve el id existente junto con domain.ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, in NewQueueItem) (string, error) {
	if err := validateNewItem(in); err != nil {
		return "", err
	}
	payload, err := json.Marshal(in.Envelope)
	if err != nil {
		return "", fmt.Errorf("serializar sobre: %w", err)
	}

	now := q.now().UTC()
	item := &entity.TransactionQueueItem{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		OrderID:   in.OrderID,
		Kind:      in.Kind,
		Endpoint:  in.Endpoint,
		Action:    in.Action,
		Payload:   payload,
		Status:    entity.QueueStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.repo.Create(ctx, item); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			existing, findErr := q.repo.FindByKey(ctx, in.TenantID, in.Endpoint, in.OrderID, in.Action)
			if findErr != nil {
				return "", fmt.Errorf("buscar ítem duplicado: %w", findErr)
			}
			return existing.ID, domain.ErrDuplicate
		}
		return "", fmt.Errorf("encolar: %w", err)
	}
	q.log.Info().
		Str("queue_item_id", item.ID).
		Str("tenant_id", item.TenantID).
		Str("order_id", item.OrderID).
		Str("endpoint", item.Endpoint).
		Str("action", string(item.Action)).
		Msg("ítem encolado")
	return item.ID, nil
}

func validateNewItem(in NewQueueItem) error {
	var msgs []string
	if in.TenantID == "" {
		msgs = append(msgs, "tenant_id es obligatorio")
	}
	if in.OrderID == "" {
		msgs = append(msgs, "order_id es obligatorio")
	}
	if !in.Action.Valid() {
		msgs = append(msgs, fmt.Sprintf("action inválida: %q", in.Action))
	}
	if in.Envelope == nil || len(in.Envelope.Body) == 0 {
		msgs = append(msgs, "sobre vacío")
	} else if in.Envelope.Endpoint != in.Endpoint {
		msgs = append(msgs, "el endpoint del sobre no coincide con el del ítem")
	}
	if len(msgs) > 0 {
		return domain.NewValidationError(msgs...)
	}

	switch in.Kind {
	case entity.QueueKindTransaction:
		if in.Endpoint != entity.EndpointTransactions {
			return domain.NewValidationError("una transacción va al endpoint transactions")
		}
		var req entity.TransactionRequest
		if err := json.Unmarshal(in.Envelope.Body, &req); err != nil {
			return domain.NewValidationError("cuerpo ilegible: " + err.Error())
		}
		if req.Action != in.Action {
			return domain.NewValidationError("la acción del cuerpo no coincide con la del ítem")
		}
		return fiscalmap.ValidateTransactionRequest(&req).Err()
	case entity.QueueKindClosing:
		if in.Endpoint != entity.EndpointClosings {
			return domain.NewValidationError("un cierre va al endpoint closings")
		}
		var req entity.ClosingReceiptRequest
		if err := json.Unmarshal(in.Envelope.Body, &req); err != nil {
			return domain.NewValidationError("cuerpo ilegible: " + err.Error())
		}
		return fiscalmap.ValidateClosingRequest(&req).Err()
	}
	return domain.NewValidationError(fmt.Sprintf("tipo de ítem desconocido %q", in.Kind))
}

// ClaimNext toma atómicamente el siguiente ítem elegible del endpoint.
// Devuelve (nil, nil) si no hay trabajo.
func (q *Queue) ClaimNext(ctx context.Context, endpoint, workerToken string) (*entity.TransactionQueueItem, error) {
	if workerToken == "" {
		return nil, domain.NewValidationError("token de worker vacío")
	}
	now := q.now().UTC()
	item, err := q.repo.Claim(ctx, endpoint, workerToken, now, now.Add(q.cfg.ClaimLease))
	if err != nil {
		return nil, fmt.Errorf("reclamar ítem: %w", err)
	}
	return item, nil
}

// ReportSuccess sending → sent y crea el comprobante en la misma transacción.
func (q *Queue) ReportSuccess(ctx context.Context, id, token string, data ReceiptData) (*entity.ReceiptRecord, error) {
	now := q.now().UTC()
	var receipt *entity.ReceiptRecord
	err := q.tx.RunQueue(ctx, func(queueRepo repository.QueueRepository, receiptRepo repository.ReceiptRepository) error {
		item, err := queueRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := queueRepo.MarkSent(ctx, id, token, now); err != nil {
			return err
		}
		receipt = &entity.ReceiptRecord{
			ID:                    uuid.NewString(),
			QueueItemID:           item.ID,
			TenantID:              item.TenantID,
			OrderID:               item.OrderID,
			RegistryTransactionID: data.RegistryTransactionID,
			QRData:                data.QRData,
			CreatedAt:             now,
		}
		receipt.PrintMode, receipt.PrintFormat = printSettings(item)
		return receiptRepo.Create(ctx, receipt)
	})
	if err != nil {
		return nil, fmt.Errorf("reportar éxito %s: %w", id, err)
	}
	q.log.Info().
		Str("queue_item_id", id).
		Str("order_id", receipt.OrderID).
		Str("registry_transaction_id", receipt.RegistryTransactionID).
		Msg("ítem entregado")
	return receipt, nil
}

// printSettings lee modo y formato de impresión del cuerpo; los cierres no los tienen.
func printSettings(item *entity.TransactionQueueItem) (fiscal.PrintMode, fiscal.PrintFormat) {
	if item.Kind != entity.QueueKindTransaction {
		return fiscal.PrintModeNone, ""
	}
	var env entity.Envelope
	if err := json.Unmarshal(item.Payload, &env); err != nil {
		return "", ""
	}
	var body struct {
		PrintMode   fiscal.PrintMode   `json:"print_mode"`
		PrintFormat fiscal.PrintFormat `json:"print_format"`
	}
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return "", ""
	}
	return body.PrintMode, body.PrintFormat
}

// ReportFailure incrementa retry_count; al llegar a MaxRetries pasa a failed_permanent,
// si no a failed con next_attempt_at = now + min(base·2^(retry_count−1), max).
// Devuelve el estado resultante.
func (q *Queue) ReportFailure(ctx context.Context, id, token string, cause error) (string, error) {
	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("reportar fallo %s: %w", id, err)
	}
	if item.Status != entity.QueueStatusSending || item.ClaimToken != token {
		return item.Status, fmt.Errorf("reportar fallo %s: %w: el ítem no está reclamado por este worker", id, domain.ErrConflict)
	}

	now := q.now().UTC()
	f := repository.QueueFailure{
		RetryCount: item.RetryCount + 1,
		LastError:  truncateError(cause),
		At:         now,
	}
	if f.RetryCount >= q.cfg.MaxRetries {
		f.Status = entity.QueueStatusFailedPermanent
	} else {
		next := now.Add(entity.Backoff(f.RetryCount, q.cfg.BaseDelay, q.cfg.MaxDelay))
		f.Status = entity.QueueStatusFailed
		f.NextAttemptAt = &next
	}
	if err := q.repo.MarkFailed(ctx, id, token, f); err != nil {
		return "", fmt.Errorf("reportar fallo %s: %w", id, err)
	}

	ev := q.log.Warn()
	if f.Status == entity.QueueStatusFailedPermanent {
		ev = q.log.Error()
	}
	ev = ev.Str("queue_item_id", id).
		Str("order_id", item.OrderID).
		Str("endpoint", item.Endpoint).
		Int("retry_count", f.RetryCount).
		Str("status", f.Status).
		AnErr("cause", cause)
	if f.NextAttemptAt != nil {
		ev = ev.Time("next_attempt_at", *f.NextAttemptAt)
	}
	if f.Status == entity.QueueStatusFailedPermanent {
		ev.Msg("reintentos agotados: requiere intervención del operador")
	} else {
		ev.Msg("entrega fallida, se reintentará")
	}
	return f.Status, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return msg
}

// Release devuelve a pending un ítem reclamado sobre el que no hubo intento de entrega.
// retry_count no cambia.
func (q *Queue) Release(ctx context.Context, id, token string) error {
	if err := q.repo.Release(ctx, id, token, q.now().UTC()); err != nil {
		return fmt.Errorf("liberar ítem %s: %w", id, err)
	}
	q.log.Debug().Str("queue_item_id", id).Msg("ítem devuelto a la cola sin intento de entrega")
	return nil
}

// RecoverStale reporta como fallidos los ítems cuyo lease venció en sending
// (worker caído o colgado). Devuelve cuántos recuperó.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	items, err := q.repo.ListExpiredClaims(ctx, q.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listar leases vencidos: %w", err)
	}
	recovered := 0
	for _, it := range items {
		cause := fmt.Errorf("%w: lease del worker vencido", domain.ErrDeliveryTimeout)
		if _, err := q.ReportFailure(ctx, it.ID, it.ClaimToken, cause); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Requeue acción de operador: failed_permanent → pending con retry_count en cero.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	if err := q.repo.Requeue(ctx, id, q.now().UTC()); err != nil {
		return fmt.Errorf("reencolar %s: %w", id, err)
	}
	q.log.Info().Str("queue_item_id", id).Msg("ítem reencolado por operador")
	return nil
}

// Get devuelve un ítem.
func (q *Queue) Get(ctx context.Context, id string) (*entity.TransactionQueueItem, error) {
	return q.repo.GetByID(ctx, id)
}

// Envelope decodifica el sobre persistido en el ítem.
func Envelope(item *entity.TransactionQueueItem) (*entity.Envelope, error) {
	var env entity.Envelope
	if err := json.Unmarshal(item.Payload, &env); err != nil {
		return nil, fmt.Errorf("sobre del ítem %s ilegible: %w", item.ID, err)
	}
	return &env, nil
}
