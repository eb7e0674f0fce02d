package fiscal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

// Tipos y severidades de alerta.
const (
	AlertQueueFailedPermanent = "queue_failed_permanent"
	AlertBreakerOpen          = "breaker_open"
	AlertCertificateExpiry    = "certificate_expiry"

	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Alert condición que requiere atención de un operador.
type Alert struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

// CertificateWarning certificado con aviso de vencimiento.
type CertificateWarning struct {
	TenantID        string    `json:"tenant_id"`
	Environment     string    `json:"environment"`
	SerialNumber    string    `json:"serial_number"`
	ValidUntil      time.Time `json:"valid_until"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Level           string    `json:"level"`
}

// Report fotografía del estado operativo del adaptador.
type Report struct {
	GeneratedAt       time.Time                      `json:"generated_at"`
	QueueCounts       map[string]int                 `json:"queue_counts"`
	PermanentFailures []*entity.TransactionQueueItem `json:"-"`
	Breakers          []*entity.CircuitBreakerState  `json:"-"`
	Certificates      []CertificateWarning           `json:"certificates"`
	Alerts            []Alert                        `json:"alerts"`
}

// MonitoringService agrega cola, breakers y certificados en un reporte.
type MonitoringService struct {
	queue   repository.QueueRepository
	breaker *CircuitBreaker
	certs   ExpiryChecker
	metrics Metrics
	log     zerolog.Logger
	now     func() time.Time
	limit   int
}

// NewMonitoringService construye el servicio. certs es opcional.
func NewMonitoringService(queue repository.QueueRepository, breaker *CircuitBreaker, certs ExpiryChecker, metrics Metrics, log zerolog.Logger) *MonitoringService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &MonitoringService{
		queue:   queue,
		breaker: breaker,
		certs:   certs,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		limit:   100,
	}
}

// Report genera el reporte del tenant. Cada failed_permanent y cada breaker OPEN queda como
// alerta y se registra en el log con nivel error. Los breakers son por endpoint y se
// comparten entre tenants; cola y certificados solo incluyen los del tenant.
func (s *MonitoringService) Report(ctx context.Context, tenantID string) (*Report, error) {
	if tenantID == "" {
		return nil, domain.NewValidationError("tenant_id requerido")
	}
	raw, err := s.queue.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("contar ítems de la cola: %w", err)
	}
	rep := &Report{GeneratedAt: s.now().UTC(), QueueCounts: byStatus(raw)}

	rep.PermanentFailures, err = s.queue.ListByStatus(ctx, tenantID, entity.QueueStatusFailedPermanent, s.limit)
	if err != nil {
		return nil, fmt.Errorf("listar fallos permanentes: %w", err)
	}
	for _, it := range rep.PermanentFailures {
		s.log.Error().
			Str("queue_item_id", it.ID).
			Str("tenant_id", it.TenantID).
			Str("order_id", it.OrderID).
			Str("endpoint", it.Endpoint).
			Int("retry_count", it.RetryCount).
			Str("last_error", it.LastError).
			Msg("ítem en failed_permanent")
		rep.Alerts = append(rep.Alerts, Alert{
			Kind:     AlertQueueFailedPermanent,
			Severity: SeverityError,
			Subject:  it.ID,
			Message:  fmt.Sprintf("orden %s sin entregar tras %d intentos: %s", it.OrderID, it.RetryCount, it.LastError),
		})
	}

	rep.Breakers, err = s.breaker.States(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range rep.Breakers {
		if b.State != entity.BreakerOpen {
			continue
		}
		s.log.Error().
			Str("endpoint", b.Endpoint).
			Str("breaker_state", b.State).
			Int("consecutive_failures", b.ConsecutiveFailures).
			Msg("circuit breaker abierto")
		rep.Alerts = append(rep.Alerts, Alert{
			Kind:     AlertBreakerOpen,
			Severity: SeverityError,
			Subject:  b.Endpoint,
			Message:  fmt.Sprintf("entregas suspendidas tras %d fallos consecutivos", b.ConsecutiveFailures),
		})
	}

	if s.certs != nil {
		warnings, err := s.certs.CheckExpirations(ctx)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			if w.Profile.TenantID != tenantID {
				continue
			}
			rep.Certificates = append(rep.Certificates, CertificateWarning{
				TenantID:        w.Profile.TenantID,
				Environment:     w.Profile.Environment,
				SerialNumber:    w.Profile.SerialNumber,
				ValidUntil:      w.Profile.ValidUntil,
				DaysUntilExpiry: w.Expiry.DaysUntilExpiry,
				Level:           w.Expiry.Level,
			})
			rep.Alerts = append(rep.Alerts, Alert{
				Kind:     AlertCertificateExpiry,
				Severity: expirySeverity(w.Expiry.Level),
				Subject:  w.Profile.TenantID + "/" + w.Profile.Environment,
				Message:  fmt.Sprintf("certificado %s: %s (%d días)", w.Profile.SerialNumber, w.Expiry.Level, w.Expiry.DaysUntilExpiry),
			})
		}
	}
	return rep, nil
}

func expirySeverity(level string) string {
	switch level {
	case entity.ExpiryExpired, entity.ExpiryCritical:
		return SeverityError
	case entity.ExpiryUrgent, entity.ExpiryWarning:
		return SeverityWarning
	}
	return SeverityInfo
}

// RefreshGauges publica la cantidad de ítems por estado de todos los tenants.
func (s *MonitoringService) RefreshGauges(ctx context.Context) error {
	raw, err := s.queue.CountByStatus(ctx, "")
	if err != nil {
		return fmt.Errorf("contar ítems de la cola: %w", err)
	}
	for st, n := range byStatus(raw) {
		s.metrics.SetQueueItems(st, n)
	}
	return nil
}

// byStatus completa con cero los estados sin ítems.
func byStatus(raw map[string]int) map[string]int {
	counts := make(map[string]int, len(entity.QueueStatuses))
	for _, st := range entity.QueueStatuses {
		counts[st] = raw[st]
	}
	return counts
}
