package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/application/dto"
	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
)

// HealthCheck comprobación de una dependencia (base de datos, redis).
type HealthCheck func(ctx context.Context) error

// MonitoringHandler reporte operativo y health.
type MonitoringHandler struct {
	monitoring *appfiscal.MonitoringService
	service    string
	checks     map[string]HealthCheck
	log        zerolog.Logger
}

// NewMonitoringHandler construye el handler. checks puede ser nil.
func NewMonitoringHandler(monitoring *appfiscal.MonitoringService, service string, checks map[string]HealthCheck, log zerolog.Logger) *MonitoringHandler {
	return &MonitoringHandler{monitoring: monitoring, service: service, checks: checks, log: log}
}

// Report cola, certificados y alertas del tenant del token, más el estado de los breakers.
// GET /api/monitoring/report
func (h *MonitoringHandler) Report(c *fiber.Ctx) error {
	report, err := h.monitoring.Report(c.UserContext(), GetTenantID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.ReportResponseFrom(report))
}

// Health 200 si todas las dependencias responden, 503 si alguna falla.
// GET /health
func (h *MonitoringHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	deps := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			deps[name] = err.Error()
			h.log.Warn().Err(err).Str("dependency", name).Msg("health check fallido")
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "service": h.service, "dependencies": deps})
}
