package postgres

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/config"
)

const applicationName = "fiscal-adapter"

// NewPool crea el pool de conexiones del adaptador.
// Usa DATABASE_URL si está definido; si no, el DSN construido desde DB_HOST, DB_PORT, etc.
// Reintenta el ping inicial con backoff hasta cfg.ConnectRetries veces.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	params := poolConfig.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	// Los claims (FOR UPDATE SKIP LOCKED) no esperan, pero el breaker y los advisory locks sí.
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}

	if cfg.ForceIPv4 {
		poolConfig.ConnConfig.DialFunc = func(ctx context.Context, _, addr string) (net.Conn, error) {
			d := &net.Dialer{KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp4", addr)
		}
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	// Codec NUMERIC -> shopspring/decimal en todas las conexiones del pool.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("crear pool: %w", err)
	}
	if err := pingWithRetry(ctx, pool, cfg.ConnectRetries); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, retries int) error {
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping DB: %w", ctx.Err())
		case <-time.After(entity.Backoff(attempt, 500*time.Millisecond, 10*time.Second)):
		}
	}
	return fmt.Errorf("ping DB tras %d intentos: %w", retries, err)
}
