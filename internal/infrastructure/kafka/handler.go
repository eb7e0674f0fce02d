package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/application/dto"
	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// Submitter puerto hacia el servicio de sometimiento.
type Submitter interface {
	SubmitOrder(ctx context.Context, tenantID string, order *entity.Order) (*appfiscal.SubmitResult, error)
	SubmitClosing(ctx context.Context, tenantID string, closing *entity.Closing) (*appfiscal.SubmitResult, error)
}

// ErrPoisonMessage el mensaje nunca podrá procesarse; se descarta y se confirma el offset.
var ErrPoisonMessage = errors.New("mensaje no procesable")

// Handler decodifica un mensaje del tópico y lo somete.
type Handler struct {
	submitter Submitter
	loc       *time.Location
	log       zerolog.Logger
}

// NewHandler construye el handler. loc es la zona horaria fiscal para fechas de cierre.
func NewHandler(submitter Submitter, loc *time.Location, log zerolog.Logger) *Handler {
	return &Handler{submitter: submitter, loc: loc, log: log}
}

// Handle procesa un valor de registro. Los errores envueltos en ErrPoisonMessage no se reintentan.
func (h *Handler) Handle(ctx context.Context, value []byte) (*appfiscal.SubmitResult, error) {
	var msg dto.KafkaMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrPoisonMessage, err)
	}
	if msg.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id vacío", ErrPoisonMessage)
	}

	var (
		res *appfiscal.SubmitResult
		err error
	)
	switch msg.Type {
	case dto.MessageTypeOrder:
		var req dto.OrderRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: payload de orden: %v", ErrPoisonMessage, err)
		}
		order, convErr := req.ToEntity()
		if convErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrPoisonMessage, convErr)
		}
		res, err = h.submitter.SubmitOrder(ctx, msg.TenantID, order)
	case dto.MessageTypeClosing:
		var req dto.ClosingRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("%w: payload de cierre: %v", ErrPoisonMessage, err)
		}
		closing, convErr := req.ToEntity(h.loc)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrPoisonMessage, convErr)
		}
		res, err = h.submitter.SubmitClosing(ctx, msg.TenantID, closing)
	default:
		return nil, fmt.Errorf("%w: tipo desconocido %q", ErrPoisonMessage, msg.Type)
	}
	if err != nil {
		if isPermanent(err) {
			return nil, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}
		return nil, err
	}
	return res, nil
}

// isPermanent errores de contenido: reintentar el mismo mensaje no cambia el resultado.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrValidationFailed) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrEmptyOrder) ||
		errors.Is(err, domain.ErrInvalidInput)
}
