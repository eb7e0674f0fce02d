package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var _ repository.BreakerStore = (*BreakerStore)(nil)

// BreakerStore estado de los breakers en fiscal_circuit_breakers. Update toma la fila con
// SELECT ... FOR UPDATE, así hay un solo escritor por endpoint entre réplicas.
type BreakerStore struct {
	pool *pgxpool.Pool
}

// NewBreakerStore construye el store con el pool.
func NewBreakerStore(pool *pgxpool.Pool) *BreakerStore {
	return &BreakerStore{pool: pool}
}

const breakerColumns = `endpoint, state, consecutive_failures, opened_at, probe_in_flight, probe_started_at, updated_at`

func (s *BreakerStore) Update(ctx context.Context, endpoint string, fn func(state *entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// La fila se crea CLOSED la primera vez; ON CONFLICT evita la carrera entre réplicas.
	if _, err := tx.Exec(ctx, `
		INSERT INTO fiscal_circuit_breakers (endpoint, state, consecutive_failures, probe_in_flight, updated_at)
		VALUES ($1, 'CLOSED', 0, false, $2)
		ON CONFLICT (endpoint) DO NOTHING`, endpoint, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("ensure breaker row: %w", err)
	}

	state, err := scanBreaker(tx.QueryRow(ctx,
		`SELECT `+breakerColumns+` FROM fiscal_circuit_breakers WHERE endpoint = $1 FOR UPDATE`, endpoint))
	if err != nil {
		return nil, fmt.Errorf("lock breaker: %w", err)
	}
	if err := fn(state); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE fiscal_circuit_breakers
		SET state = $2, consecutive_failures = $3, opened_at = $4, probe_in_flight = $5,
		    probe_started_at = $6, updated_at = $7
		WHERE endpoint = $1`,
		endpoint, state.State, state.ConsecutiveFailures, state.OpenedAt, state.ProbeInFlight,
		state.ProbeStartedAt, state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update breaker: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return state, nil
}

func (s *BreakerStore) Get(ctx context.Context, endpoint string) (*entity.CircuitBreakerState, error) {
	state, err := scanBreaker(s.pool.QueryRow(ctx,
		`SELECT `+breakerColumns+` FROM fiscal_circuit_breakers WHERE endpoint = $1`, endpoint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get breaker: %w", err)
	}
	return state, nil
}

func (s *BreakerStore) List(ctx context.Context) ([]*entity.CircuitBreakerState, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+breakerColumns+` FROM fiscal_circuit_breakers ORDER BY endpoint`)
	if err != nil {
		return nil, fmt.Errorf("list breakers: %w", err)
	}
	defer rows.Close()
	var out []*entity.CircuitBreakerState
	for rows.Next() {
		st, err := scanBreaker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan breaker: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanBreaker(row pgx.Row) (*entity.CircuitBreakerState, error) {
	var st entity.CircuitBreakerState
	if err := row.Scan(&st.Endpoint, &st.State, &st.ConsecutiveFailures, &st.OpenedAt,
		&st.ProbeInFlight, &st.ProbeStartedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}
