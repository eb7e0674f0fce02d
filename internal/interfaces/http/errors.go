package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/application/dto"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
)

// errorStatus traduce la taxonomía de errores del dominio a (status, código).
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrEmptyOrder):
		return fiber.StatusUnprocessableEntity, "VALIDATION"
	case errors.Is(err, domain.ErrInvalidCertificate):
		return fiber.StatusUnprocessableEntity, "INVALID_CERTIFICATE"
	case errors.Is(err, domain.ErrDeliveryRejected):
		return fiber.StatusUnprocessableEntity, "REGISTRY_REJECTED"
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrActiveCertificateExists):
		return fiber.StatusConflict, "ACTIVE_CERTIFICATE_EXISTS"
	case errors.Is(err, domain.ErrNoActiveCertificate), errors.Is(err, domain.ErrNoKeyMaterial):
		return fiber.StatusConflict, "NO_ACTIVE_CERTIFICATE"
	case errors.Is(err, domain.ErrDuplicate):
		return fiber.StatusConflict, "DUPLICATE"
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrCircuitOpen):
		return fiber.StatusServiceUnavailable, "CIRCUIT_OPEN"
	case errors.Is(err, domain.ErrDeliveryTimeout):
		return fiber.StatusServiceUnavailable, "REGISTRY_TIMEOUT"
	case errors.Is(err, domain.ErrAnnulmentNotAcknowledged):
		return fiber.StatusServiceUnavailable, "ANNULMENT_NOT_ACKNOWLEDGED"
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

// writeError responde con dto.ErrorResponse. Los 500 no exponen el detalle interno.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	status, code := errorStatus(err)
	switch {
	case status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable:
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("error interno")
	case status == fiber.StatusServiceUnavailable:
		log.Warn().Err(err).Str("path", c.Path()).Str("code", code).Msg("servicio no disponible")
	}
	resp := dto.ErrorResponse{Code: code, Message: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Errors
	}
	if status == fiber.StatusInternalServerError {
		resp.Message = "error interno"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: message})
}
