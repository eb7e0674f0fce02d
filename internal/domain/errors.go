package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// Errores de dominio genéricos.
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Taxonomía de errores del adaptador fiscal.
var (
	ErrInvalidAmount           = fiscal.ErrInvalidAmount
	ErrMalformedSignature      = errors.New("firma mal formada")
	ErrInvalidCertificate      = errors.New("certificado inválido")
	ErrEmptyOrder              = errors.New("la orden no tiene líneas")
	ErrValidationFailed        = errors.New("validación fallida")
	ErrActiveCertificateExists = errors.New("ya existe un certificado activo para el tenant y ambiente")
	ErrDeliveryTimeout         = errors.New("tiempo de espera agotado en el envío al registro fiscal")
	ErrDeliveryRejected        = errors.New("el registro fiscal rechazó la transacción")
	ErrCircuitOpen             = errors.New("circuito abierto: envío suspendido")

	ErrNoKeyMaterial            = errors.New("no hay llave privada para firmar")
	ErrNoActiveCertificate      = errors.New("no hay certificado activo para el tenant y ambiente")
	ErrCertificateNotYetValid   = errors.New("el certificado aún no es vigente")
	ErrAnnulmentNotAcknowledged = errors.New("el registro fiscal no confirmó la anulación")
)

// ValidationError agrupa los mensajes de una validación estructural.
// errors.Is(err, ErrValidationFailed) es verdadero para cualquier ValidationError.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidationFailed.Error()
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError construye un ValidationError con los mensajes dados.
func NewValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Errors: msgs}
}

// DeliveryRejectedError rechazo explícito del registro con su código de resultado.
type DeliveryRejectedError struct {
	Code    string
	Message string
}

func (e *DeliveryRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s [%s]", ErrDeliveryRejected.Error(), e.Code)
	}
	return fmt.Sprintf("%s [%s]: %s", ErrDeliveryRejected.Error(), e.Code, e.Message)
}

func (e *DeliveryRejectedError) Is(target error) bool {
	return target == ErrDeliveryRejected
}
