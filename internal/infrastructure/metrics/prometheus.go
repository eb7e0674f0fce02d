package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

var _ appfiscal.Metrics = (*Prometheus)(nil)

var breakerStates = []string{entity.BreakerClosed, entity.BreakerOpen, entity.BreakerHalfOpen}

// Prometheus implementa appfiscal.Metrics sobre un registro propio (no el global).
type Prometheus struct {
	registry     *prometheus.Registry
	deliveries   *prometheus.CounterVec
	queueItems   *prometheus.GaugeVec
	breakerState *prometheus.GaugeVec
	certDays     *prometheus.GaugeVec
}

// New registra los colectores bajo namespace junto con los de proceso y runtime de Go.
func New(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Intentos de entrega al registro fiscal por endpoint y resultado.",
		}, []string{"endpoint", "outcome"}),
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Ítems de la cola por estado.",
		}, []string{"status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "1 en el estado actual del breaker de cada endpoint, 0 en los demás.",
		}, []string{"endpoint", "state"}),
		certDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "certificate_days_to_expiry",
			Help:      "Días hasta el vencimiento del certificado activo.",
		}, []string{"tenant_id", "environment"}),
	}
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		p.deliveries, p.queueItems, p.breakerState, p.certDays,
	)
	return p
}

// Registry expone el registro para colectores externos (kprom del consumidor Kafka).
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler sirve /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) DeliveryOutcome(endpoint, outcome string) {
	p.deliveries.WithLabelValues(endpoint, outcome).Inc()
}

func (p *Prometheus) SetQueueItems(status string, n int) {
	p.queueItems.WithLabelValues(status).Set(float64(n))
}

func (p *Prometheus) SetBreakerState(endpoint, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.breakerState.WithLabelValues(endpoint, s).Set(v)
	}
}

func (p *Prometheus) SetCertificateDaysToExpiry(tenantID, environment string, days int) {
	p.certDays.WithLabelValues(tenantID, environment).Set(float64(days))
}
