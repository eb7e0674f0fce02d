package fiscal

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	fiscalmap "github.com/jhoicas/fiscal-adapter/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// SigningKeyProvider entrega la llave del certificado activo de un tenant.
type SigningKeyProvider interface {
	SigningKey(ctx context.Context, tenantID, environment string) (*ecdsa.PrivateKey, *entity.CertificateProfile, error)
}

var _ SigningKeyProvider = (*CertificateManager)(nil)

// SubmissionConfig identidad del emisor en el ambiente activo.
type SubmissionConfig struct {
	Environment string
	DeviceID    string // se usa si el perfil de certificado no trae uno
}

// SubmitResult resultado de someter una orden o cierre.
type SubmitResult struct {
	QueueItemID   string
	TransactionID string
	Duplicate     bool // la misma (orden, acción) ya estaba en la cola
}

// SubmissionService arma el request firmado y lo deja en la cola:
//
//	mapear → validar → firmar → validar firmado → sobre → encolar
//
// Cualquier error de codificación o firma aborta antes de encolar.
type SubmissionService struct {
	mapper   *fiscalmap.Mapper
	signer   Signer
	keys     SigningKeyProvider
	envelope EnvelopeBuilder
	queue    *Queue
	cfg      SubmissionConfig
	log      zerolog.Logger
}

// NewSubmissionService construye el servicio.
func NewSubmissionService(
	mapper *fiscalmap.Mapper,
	signer Signer,
	keys SigningKeyProvider,
	envelope EnvelopeBuilder,
	queue *Queue,
	cfg SubmissionConfig,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		mapper:   mapper,
		signer:   signer,
		keys:     keys,
		envelope: envelope,
		queue:    queue,
		cfg:      cfg,
		log:      log,
	}
}

// SubmitOrder somete una orden al registro fiscal.
func (s *SubmissionService) SubmitOrder(ctx context.Context, tenantID string, order *entity.Order) (*SubmitResult, error) {
	req, err := s.mapper.BuildTransaction(order)
	if err != nil {
		return nil, err
	}
	if err := fiscalmap.ValidateUnsignedTransaction(req).Err(); err != nil {
		return nil, fmt.Errorf("orden %s: %w", order.ID, err)
	}

	key, profile, err := s.keys.SigningKey(ctx, tenantID, s.cfg.Environment)
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.Sign(req.Unsigned(), fiscal.SignatureAlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("firmar orden %s: %w", order.ID, err)
	}
	signed := req.WithSignature(sig)
	if err := fiscalmap.ValidateTransactionRequest(&signed).Err(); err != nil {
		return nil, fmt.Errorf("orden %s: %w", order.ID, err)
	}

	env, err := s.envelope.BuildEnvelope(ctx, EnvelopeInput{
		Endpoint:   entity.EndpointTransactions,
		Body:       signed,
		DeviceID:   s.deviceID(profile),
		SigningKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("sobre de la orden %s: %w", order.ID, err)
	}

	res := &SubmitResult{TransactionID: signed.TransactionID}
	res.QueueItemID, err = s.queue.Enqueue(ctx, NewQueueItem{
		TenantID: tenantID,
		OrderID:  order.ID,
		Kind:     entity.QueueKindTransaction,
		Endpoint: entity.EndpointTransactions,
		Action:   signed.Action,
		Envelope: env,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		res.Duplicate = true
		s.log.Info().Str("tenant_id", tenantID).Str("order_id", order.ID).
			Str("queue_item_id", res.QueueItemID).Msg("orden ya encolada")
	}
	return res, nil
}

// SubmitClosing somete el cierre diario al registro fiscal.
func (s *SubmissionService) SubmitClosing(ctx context.Context, tenantID string, closing *entity.Closing) (*SubmitResult, error) {
	req, err := s.mapper.BuildClosing(closing)
	if err != nil {
		return nil, err
	}
	if err := fiscalmap.ValidateUnsignedClosing(req).Err(); err != nil {
		return nil, fmt.Errorf("cierre %s: %w", req.ClosingDate, err)
	}

	key, profile, err := s.keys.SigningKey(ctx, tenantID, s.cfg.Environment)
	if err != nil {
		return nil, err
	}
	sig, err := s.signer.Sign(req.Unsigned(), fiscal.SignatureAlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("firmar cierre %s: %w", req.ClosingDate, err)
	}
	signed := req.WithSignature(sig)
	if err := fiscalmap.ValidateClosingRequest(&signed).Err(); err != nil {
		return nil, fmt.Errorf("cierre %s: %w", req.ClosingDate, err)
	}

	env, err := s.envelope.BuildEnvelope(ctx, EnvelopeInput{
		Endpoint:   entity.EndpointClosings,
		Body:       signed,
		DeviceID:   s.deviceID(profile),
		SigningKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("sobre del cierre %s: %w", req.ClosingDate, err)
	}

	orderID := entity.ClosingOrderID(signed.ClosingDate)
	res := &SubmitResult{TransactionID: orderID}
	res.QueueItemID, err = s.queue.Enqueue(ctx, NewQueueItem{
		TenantID: tenantID,
		OrderID:  orderID,
		Kind:     entity.QueueKindClosing,
		Endpoint: entity.EndpointClosings,
		Action:   fiscal.ActionClosing,
		Envelope: env,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		res.Duplicate = true
		s.log.Info().Str("tenant_id", tenantID).Str("closing_date", signed.ClosingDate).
			Str("queue_item_id", res.QueueItemID).Msg("cierre ya encolado")
	}
	return res, nil
}

func (s *SubmissionService) deviceID(p *entity.CertificateProfile) string {
	if p != nil && p.DeviceID != "" {
		return p.DeviceID
	}
	return s.cfg.DeviceID
}
