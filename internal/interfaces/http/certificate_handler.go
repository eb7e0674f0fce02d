package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/application/dto"
	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
)

// CertificateHandler emisión, anulación y estado de certificados.
type CertificateHandler struct {
	certs       *appfiscal.CertificateManager
	environment string
	defaults    appfiscal.EnrollmentConfig
	log         zerolog.Logger
}

// NewCertificateHandler construye el handler. environment y defaults completan los campos
// que el request deja vacíos.
func NewCertificateHandler(certs *appfiscal.CertificateManager, environment string, defaults appfiscal.EnrollmentConfig, log zerolog.Logger) *CertificateHandler {
	return &CertificateHandler{certs: certs, environment: environment, defaults: defaults, log: log}
}

// Enroll genera llave y CSR y solicita el certificado al registro (solo admin).
// POST /api/fiscal/certificates/enroll
func (h *CertificateHandler) Enroll(c *fiber.Ctx) error {
	var in dto.EnrollRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	env := orDefault(in.Environment, h.environment)
	cfg := appfiscal.EnrollmentConfig{
		DeviceID:  orDefault(in.DeviceID, h.defaults.DeviceID),
		LegalName: orDefault(in.LegalName, h.defaults.LegalName),
		TaxID:     orDefault(in.TaxID, h.defaults.TaxID),
		Country:   orDefault(in.Country, h.defaults.Country),
	}
	profile, err := h.certs.Enroll(c.UserContext(), GetTenantID(c), env, cfg)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CertificateProfileResponseFrom(profile))
}

// Annul anula el certificado en el registro y localmente (solo admin).
// POST /api/fiscal/certificates/:id/annul
func (h *CertificateHandler) Annul(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.AnnulRequest
	if err := c.BodyParser(&in); err != nil || in.Reason == "" {
		return badRequest(c, "VALIDATION", "reason requerido")
	}
	current, err := h.certs.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if current.TenantID != GetTenantID(c) {
		return writeError(c, h.log, domain.ErrNotFound)
	}
	profile, err := h.certs.Annul(c.UserContext(), id, in.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.CertificateProfileResponseFrom(profile))
}

// Status certificado activo y su vencimiento. ?environment= por defecto el configurado.
// GET /api/fiscal/certificates/status
func (h *CertificateHandler) Status(c *fiber.Ctx) error {
	env := c.Query("environment", h.environment)
	status, err := h.certs.Status(c.UserContext(), GetTenantID(c), env)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.CertificateStatusResponseFrom(status))
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
