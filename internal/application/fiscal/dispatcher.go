package fiscal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// Resultados de un ciclo de despacho.
const (
	OutcomeIdle            = "idle"
	OutcomeCircuitOpen     = "circuit_open"
	OutcomeSent            = "sent"
	OutcomeFailed          = "failed"
	OutcomeFailedPermanent = "failed_permanent"
)

// DispatcherConfig parámetros de los workers de entrega.
type DispatcherConfig struct {
	Workers             int
	RatePerSecond       float64 // 0 = sin límite
	Burst               int
	SendTimeout         time.Duration
	PollInterval        time.Duration
	RecoverInterval     time.Duration
	ExpiryCheckInterval time.Duration
	Endpoints           []string
}

const bookkeepingTimeout = 10 * time.Second

// DefaultDispatcherConfig valores por defecto.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:             2,
		RatePerSecond:       10,
		Burst:               5,
		SendTimeout:         30 * time.Second,
		PollInterval:        2 * time.Second,
		RecoverInterval:     time.Minute,
		ExpiryCheckInterval: 24 * time.Hour,
		Endpoints:           entity.Endpoints,
	}
}

// ExpiryChecker revisión periódica de vencimientos.
type ExpiryChecker interface {
	CheckExpirations(ctx context.Context) ([]CertificateStatus, error)
}

// GaugeRefresher recalcula las métricas agregadas de la cola.
type GaugeRefresher interface {
	RefreshGauges(ctx context.Context) error
}

// Dispatcher consume la cola y entrega al registro respetando el circuit breaker.
type Dispatcher struct {
	queue    *Queue
	breaker  *CircuitBreaker
	registry Registry
	expiry   ExpiryChecker
	gauges   GaugeRefresher
	limiter  *rate.Limiter
	cfg      DispatcherConfig
	metrics  Metrics
	log      zerolog.Logger
}

// NewDispatcher construye el dispatcher. expiry y gauges son opcionales.
func NewDispatcher(
	queue *Queue,
	breaker *CircuitBreaker,
	registry Registry,
	expiry ExpiryChecker,
	gauges GaugeRefresher,
	cfg DispatcherConfig,
	metrics Metrics,
	log zerolog.Logger,
) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RecoverInterval <= 0 {
		cfg.RecoverInterval = def.RecoverInterval
	}
	if cfg.ExpiryCheckInterval <= 0 {
		cfg.ExpiryCheckInterval = def.ExpiryCheckInterval
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = def.Endpoints
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{
		queue:    queue,
		breaker:  breaker,
		registry: registry,
		expiry:   expiry,
		gauges:   gauges,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
	}
}

// Run arranca los workers y las tareas de mantenimiento; bloquea hasta que ctx se cancele.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().Int("workers", d.cfg.Workers).Strs("endpoints", d.cfg.Endpoints).
		Msg("dispatcher fiscal iniciado")

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d.worker(ctx, fmt.Sprintf("w%d-%s", n, uuid.NewString()))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.maintenance(ctx)
	}()
	wg.Wait()
	d.log.Info().Msg("dispatcher fiscal detenido")
}

func (d *Dispatcher) worker(ctx context.Context, token string) {
	log := d.log.With().Str("worker", token).Logger()
	for {
		busy := false
		for _, ep := range d.cfg.Endpoints {
			if ctx.Err() != nil {
				return
			}
			outcome, err := d.dispatch(ctx, ep, token)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("endpoint", ep).Msg("ciclo de despacho fallido")
			}
			if outcome != OutcomeIdle && outcome != OutcomeCircuitOpen && outcome != "" {
				busy = true
			}
		}
		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

func (d *Dispatcher) maintenance(ctx context.Context) {
	recoverTicker := time.NewTicker(d.cfg.RecoverInterval)
	defer recoverTicker.Stop()
	expiryTicker := time.NewTicker(d.cfg.ExpiryCheckInterval)
	defer expiryTicker.Stop()

	d.checkExpirations(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-recoverTicker.C:
			n, err := d.queue.RecoverStale(ctx)
			if err != nil {
				d.log.Error().Err(err).Msg("recuperación de ítems abandonados fallida")
			} else if n > 0 {
				d.log.Warn().Int("recovered", n).Msg("ítems con lease vencido devueltos a la cola")
			}
			if d.gauges != nil {
				if err := d.gauges.RefreshGauges(ctx); err != nil {
					d.log.Error().Err(err).Msg("actualizar métricas de la cola")
				}
			}
		case <-expiryTicker.C:
			d.checkExpirations(ctx)
		}
	}
}

func (d *Dispatcher) checkExpirations(ctx context.Context) {
	if d.expiry == nil {
		return
	}
	if _, err := d.expiry.CheckExpirations(ctx); err != nil {
		d.log.Error().Err(err).Msg("revisión de vencimientos fallida")
	}
}

// DispatchOnce ejecuta un ciclo de entrega sobre endpoint con un token de worker propio.
func (d *Dispatcher) DispatchOnce(ctx context.Context, endpoint string) (string, error) {
	return d.dispatch(ctx, endpoint, "once-"+uuid.NewString())
}

func (d *Dispatcher) dispatch(ctx context.Context, endpoint, token string) (string, error) {
	permit, err := d.breaker.Acquire(ctx, endpoint)
	if err != nil {
		if errors.Is(err, domain.ErrCircuitOpen) {
			return OutcomeCircuitOpen, nil
		}
		return "", err
	}

	item, err := d.queue.ClaimNext(ctx, endpoint, token)
	if err != nil || item == nil {
		if relErr := d.breaker.Release(ctx, permit); relErr != nil {
			d.log.Error().Err(relErr).Str("endpoint", endpoint).Msg("liberar prueba del breaker")
		}
		if err != nil {
			return "", err
		}
		return OutcomeIdle, nil
	}

	log := d.log.With().Str("queue_item_id", item.ID).Str("endpoint", endpoint).Logger()

	if err := d.limiter.Wait(ctx); err != nil {
		// sin intento de entrega: vuelve a pending sin consumir un reintento
		bookCtx, cancel := bookkeepingContext(ctx)
		defer cancel()
		if relErr := d.queue.Release(bookCtx, item.ID, token); relErr != nil {
			log.Error().Err(relErr).Msg("devolver ítem a la cola")
		}
		if relErr := d.breaker.Release(bookCtx, permit); relErr != nil {
			log.Error().Err(relErr).Msg("liberar prueba del breaker")
		}
		return "", err
	}

	result, cause := d.send(ctx, item)

	// Tras el envío el resultado se registra aunque ctx se cancele: un ítem aceptado
	// por el registro que queda en sending se reenviaría al vencer el lease.
	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()

	if cause == nil {
		outcome := OutcomeSent
		if _, err := d.queue.ReportSuccess(ctx, item.ID, token, ReceiptData{
			RegistryTransactionID: result.TransactionID,
			QRData:                result.QRData,
		}); err != nil {
			log.Error().Err(err).Msg("entrega aceptada pero no se pudo registrar el comprobante")
			outcome = ""
		}
		if err := d.breaker.Success(ctx, permit); err != nil {
			log.Error().Err(err).Msg("registrar éxito en el breaker")
		}
		if outcome != "" {
			d.metrics.DeliveryOutcome(endpoint, OutcomeSent)
			return OutcomeSent, nil
		}
		return OutcomeFailed, fmt.Errorf("ítem %s: comprobante no registrado", item.ID)
	}

	if err := d.breaker.Failure(ctx, permit); err != nil {
		log.Error().Err(err).Msg("registrar fallo en el breaker")
	}
	status, err := d.queue.ReportFailure(ctx, item.ID, token, cause)
	if err != nil {
		return OutcomeFailed, err
	}
	outcome := OutcomeFailed
	if status == entity.QueueStatusFailedPermanent {
		outcome = OutcomeFailedPermanent
	}
	d.metrics.DeliveryOutcome(endpoint, outcome)
	return outcome, nil
}

// bookkeepingContext desacopla de la cancelación de ctx las escrituras posteriores
// a un intento de entrega, con un tope propio.
func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// send entrega el sobre del ítem con timeout y clasifica la respuesta.
func (d *Dispatcher) send(ctx context.Context, item *entity.TransactionQueueItem) (*RegistryResult, error) {
	env, err := Envelope(item)
	if err != nil {
		return nil, err
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	res, err := d.registry.Send(sendCtx, env)
	if err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrDeliveryTimeout) {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeliveryTimeout, err)
		}
		return nil, err
	}
	if res.ResultCode != fiscal.ResultCodeSuccess {
		return nil, &domain.DeliveryRejectedError{Code: res.ResultCode, Message: res.Message}
	}
	return res, nil
}
