package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/twmb/franz-go/plugin/kprom"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	fiscalmap "github.com/jhoicas/fiscal-adapter/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	infrafiscal "github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal/signer"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/kafka"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/keyvault"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/memory"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/metrics"
	infrapdf "github.com/jhoicas/fiscal-adapter/internal/infrastructure/pdf"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/postgres"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/redis"
	httpRouter "github.com/jhoicas/fiscal-adapter/internal/interfaces/http"
	"github.com/jhoicas/fiscal-adapter/pkg/config"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
	"github.com/jhoicas/fiscal-adapter/pkg/logger"
)

const metricsNamespace = "fiscal_adapter"

// stores puertos de persistencia según APP_STORE y BREAKER_STORE.
type stores struct {
	queue    repository.QueueRepository
	receipts repository.ReceiptRepository
	queueTx  appfiscal.QueueTxRunner
	certs    repository.CertificateRepository
	certTx   appfiscal.CertificateTxRunner
	breakers repository.BreakerStore
	checks   map[string]httpRouter.HealthCheck
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("configuración inválida: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
		App:   cfg.App.Name,
	})
	logger.SetupGlobals(log)
	log.Info().
		Str("env", cfg.App.Env).
		Str("environment", cfg.Fiscal.Environment).
		Str("store", cfg.App.Store).
		Str("breaker_store", cfg.Breaker.Store).
		Msg("iniciando adaptador fiscal")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar almacenamiento")
	}
	defer st.close()

	prom := metrics.New(metricsNamespace)

	// Codec, firma y sobres
	localizer, err := fiscal.NewLocalizer(cfg.Fiscal.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Fiscal.Timezone).Msg("zona horaria fiscal")
	}
	mapper, err := fiscalmap.NewMapper(fiscalmap.MapperConfig{
		Localizer:           localizer,
		UnknownStatusPolicy: fiscalmap.UnknownStatusPolicy(cfg.Fiscal.UnknownStatusPolicy),
		DefaultPrintMode:    fiscal.PrintMode(cfg.Fiscal.DefaultPrintMode),
		DefaultPrintFormat:  fiscal.PrintFormat(cfg.Fiscal.DefaultPrintFormat),
		Logger:              log.Component("mapper"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mapper fiscal")
	}
	signerSvc := signer.NewService()
	headers, err := infrafiscal.NewHeaderBuilder(infrafiscal.HeaderConfig{
		Environment:       cfg.Fiscal.Environment,
		CertificationCode: cfg.Fiscal.CertificationCode,
		SoftwareID:        cfg.Fiscal.SoftwareID,
		SoftwareVersion:   cfg.Fiscal.SoftwareVersion,
		RequiredHeaders:   cfg.Fiscal.RequiredHeaders,
	}, signerSvc)
	if err != nil {
		log.Fatal().Err(err).Msg("constructor de headers")
	}
	registry := infrafiscal.NewHTTPRegistry(cfg.Fiscal.RegistryBaseURL, headers, cfg.Fiscal.RegistryTimeout)

	vault, err := keyvault.New(cfg.Cert.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("bóveda de llaves")
	}

	// Servicios de aplicación
	queue := appfiscal.NewQueue(st.queue, st.queueTx, appfiscal.QueueConfig{
		MaxRetries: cfg.Queue.MaxRetries,
		BaseDelay:  cfg.Queue.BaseDelay,
		MaxDelay:   cfg.Queue.MaxDelay,
		ClaimLease: cfg.Queue.ClaimLease,
	}, prom, log.Component("queue"))
	breaker := appfiscal.NewCircuitBreaker(st.breakers, appfiscal.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, prom, log.Component("breaker"))
	certs := appfiscal.NewCertificateManager(st.certs, st.certTx, registry, vault, appfiscal.CertificateConfig{
		AssumeAnnulmentWhenUnsupported: cfg.Cert.AssumeAnnulmentWhenUnsupported,
	}, prom, log.Component("certificates"))
	submission := appfiscal.NewSubmissionService(mapper, signerSvc, certs, headers, queue, appfiscal.SubmissionConfig{
		Environment: cfg.Fiscal.Environment,
		DeviceID:    cfg.Fiscal.DeviceID,
	}, log.Component("submission"))
	receipts := appfiscal.NewReceiptService(st.receipts, st.queue, infrapdf.NewMarotoReceiptRenderer(cfg.Fiscal.LegalName))
	monitoring := appfiscal.NewMonitoringService(st.queue, breaker, certs, prom, log.Component("monitoring"))
	dispatcher := appfiscal.NewDispatcher(queue, breaker, registry, certs, monitoring, appfiscal.DispatcherConfig{
		Workers:             cfg.Dispatch.Workers,
		RatePerSecond:       cfg.Dispatch.RatePerSecond,
		Burst:               cfg.Dispatch.Burst,
		SendTimeout:         cfg.Dispatch.SendTimeout,
		PollInterval:        cfg.Dispatch.PollInterval,
		RecoverInterval:     cfg.Dispatch.RecoverInterval,
		ExpiryCheckInterval: cfg.Cert.ExpiryCheckInterval,
	}, prom, log.Component("dispatcher"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	// Kafka (opcional)
	if cfg.Kafka.Enabled {
		kmetrics := kprom.NewMetrics(metricsNamespace, kprom.Registry(prom.Registry()))
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.Group,
			Topic:   cfg.Kafka.Topic,
		}, kafka.NewHandler(submission, localizer.Location(), log.Component("kafka")), kmetrics, log.Component("kafka"))
		if err != nil {
			log.Fatal().Err(err).Msg("consumidor kafka")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("consumidor kafka finalizado")
			}
		}()
	}

	// HTTP
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Fiscal Adapter API",
	}))

	httpLog := log.Component("http")
	httpRouter.Router(app, httpRouter.RouterDeps{
		Fiscal: httpRouter.NewFiscalHandler(submission, queue, receipts, localizer.Location(), httpLog),
		Certificates: httpRouter.NewCertificateHandler(certs, cfg.Fiscal.Environment, appfiscal.EnrollmentConfig{
			DeviceID:  cfg.Fiscal.DeviceID,
			LegalName: cfg.Fiscal.LegalName,
			TaxID:     cfg.Fiscal.TaxID,
			Country:   cfg.Fiscal.Country,
		}, httpLog),
		Monitoring:     httpRouter.NewMonitoringHandler(monitoring, cfg.App.Name, st.checks, httpLog),
		MetricsHandler: prom.Handler(),
		JWTSecret:      cfg.JWT.Secret,
		JWTIssuer:      cfg.JWT.Issuer,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	wg.Wait()

	log.Info().Msg("aplicación detenida")
}

// openStores conecta PostgreSQL (con migraciones) o usa memoria, y elige el store del breaker.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	st := &stores{checks: map[string]httpRouter.HealthCheck{}}

	switch cfg.App.Store {
	case "memory":
		log.Warn().Msg("almacenamiento en memoria: sin durabilidad, solo para desarrollo")
		q := memory.NewQueueStore()
		c := memory.NewCertificateStore()
		st.queue, st.receipts, st.queueTx = q, q.Receipts(), q
		st.certs, st.certTx = c, c
	default:
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, pool, log.Component("migrations")); err != nil {
			st.close()
			return nil, err
		}
		tx := postgres.NewTxRunner(pool)
		st.queue = postgres.NewQueueRepository(pool)
		st.receipts = postgres.NewReceiptRepository(pool)
		st.certs = postgres.NewCertificateRepository(pool)
		st.queueTx, st.certTx = tx, tx
		st.checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		if cfg.Breaker.Store == "postgres" {
			st.breakers = postgres.NewBreakerStore(pool)
		}
	}

	switch cfg.Breaker.Store {
	case "redis":
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = client.Close() })
		st.breakers = redis.NewBreakerStore(client)
		st.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	case "memory":
		st.breakers = memory.NewBreakerStore()
	}
	return st, nil
}
