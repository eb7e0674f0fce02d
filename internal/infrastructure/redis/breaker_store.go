package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

var _ repository.BreakerStore = (*BreakerStore)(nil)

const (
	keyPrefix    = "fiscal:breaker:"
	endpointsKey = "fiscal:breakers"
	// maxCASRetries intentos de WATCH/MULTI antes de rendirse ante escritores concurrentes.
	maxCASRetries = 20
)

// ErrContention se devuelve cuando el CAS no logra aplicarse tras maxCASRetries intentos.
var ErrContention = errors.New("redis breaker store: contención en la actualización")

// BreakerStore guarda cada breaker en un hash; Update es un CAS con WATCH sobre la llave,
// compartido por todas las réplicas que apuntan al mismo Redis.
type BreakerStore struct {
	client *goredis.Client
}

// NewBreakerStore construye el store sobre un cliente ya conectado.
func NewBreakerStore(client *goredis.Client) *BreakerStore {
	return &BreakerStore{client: client}
}

func (s *BreakerStore) Update(ctx context.Context, endpoint string, fn func(state *entity.CircuitBreakerState) error) (*entity.CircuitBreakerState, error) {
	key := keyPrefix + endpoint
	var result *entity.CircuitBreakerState

	txf := func(tx *goredis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		state := entity.NewCircuitBreakerState(endpoint)
		if len(data) > 0 {
			if state, err = decodeState(endpoint, data); err != nil {
				return err
			}
		}
		if err := fn(state); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, encodeState(state))
			p.SAdd(ctx, endpointsKey, endpoint)
			return nil
		})
		if err != nil {
			return err
		}
		result = state
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%s: %w", endpoint, ErrContention)
}

func (s *BreakerStore) Get(ctx context.Context, endpoint string) (*entity.CircuitBreakerState, error) {
	data, err := s.client.HGetAll(ctx, keyPrefix+endpoint).Result()
	if err != nil {
		return nil, fmt.Errorf("get breaker: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeState(endpoint, data)
}

func (s *BreakerStore) List(ctx context.Context) ([]*entity.CircuitBreakerState, error) {
	endpoints, err := s.client.SMembers(ctx, endpointsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list breakers: %w", err)
	}
	sort.Strings(endpoints)
	out := make([]*entity.CircuitBreakerState, 0, len(endpoints))
	for _, ep := range endpoints {
		st, err := s.Get(ctx, ep)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func encodeState(st *entity.CircuitBreakerState) map[string]any {
	return map[string]any{
		"state":                st.State,
		"consecutive_failures": st.ConsecutiveFailures,
		"opened_at":            encodeTime(st.OpenedAt),
		"probe_in_flight":      strconv.FormatBool(st.ProbeInFlight),
		"probe_started_at":     encodeTime(st.ProbeStartedAt),
		"updated_at":           encodeTime(&st.UpdatedAt),
	}
}

func decodeState(endpoint string, data map[string]string) (*entity.CircuitBreakerState, error) {
	st := &entity.CircuitBreakerState{Endpoint: endpoint, State: data["state"]}
	if st.State == "" {
		st.State = entity.BreakerClosed
	}
	var err error
	if raw := data["consecutive_failures"]; raw != "" {
		if st.ConsecutiveFailures, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("consecutive_failures: %w", err)
		}
	}
	st.ProbeInFlight = data["probe_in_flight"] == "true"
	if st.OpenedAt, err = decodeTime(data["opened_at"]); err != nil {
		return nil, fmt.Errorf("opened_at: %w", err)
	}
	if st.ProbeStartedAt, err = decodeTime(data["probe_started_at"]); err != nil {
		return nil, fmt.Errorf("probe_started_at: %w", err)
	}
	updated, err := decodeTime(data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if updated != nil {
		st.UpdatedAt = *updated
	}
	return st, nil
}

// Los instantes se guardan como nanosegundos Unix; cadena vacía = nulo.
func encodeTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}
