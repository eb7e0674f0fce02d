package fiscal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/memory"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

func buildTestQueue(maxRetries int) (*appfiscal.Queue, *memory.QueueStore, *fakeClock) {
	store := memory.NewQueueStore()
	clock := newClock()
	q := appfiscal.NewQueue(store, store, appfiscal.QueueConfig{
		MaxRetries: maxRetries,
		BaseDelay:  10 * time.Second,
		MaxDelay:   time.Minute,
		ClaimLease: 30 * time.Second,
	}, nil, zerolog.Nop()).WithClock(clock.Now)
	return q, store, clock
}

func TestQueue_Enqueue_Pending(t *testing.T) {
	q, _, _ := buildTestQueue(3)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	require.NoError(t, err)

	item, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueStatusPending, item.Status)
	assert.Equal(t, 0, item.RetryCount)
	assert.Equal(t, "ORD-1", item.OrderID)

	env, err := appfiscal.Envelope(item)
	require.NoError(t, err)
	assert.Equal(t, entity.EndpointTransactions, env.Endpoint)
}

func TestQueue_Enqueue_RechazaRequestInvalido(t *testing.T) {
	q, store, _ := buildTestQueue(3)
	req := buildTestTransaction("ORD-1")
	req.Total = 99999
	in := buildTestItem(t, "t1", "ORD-1")
	in.Envelope = buildTestEnvelope(t, req, entity.EndpointTransactions)

	_, err := q.Enqueue(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	counts, _ := store.CountByStatus(context.Background(), "")
	assert.Empty(t, counts, "nada debe quedar en la cola")
}

func TestQueue_Enqueue_RechazaSinFirma(t *testing.T) {
	q, _, _ := buildTestQueue(3)
	req := buildTestTransaction("ORD-1")
	req.Signature = ""
	in := buildTestItem(t, "t1", "ORD-1")
	in.Envelope = buildTestEnvelope(t, req, entity.EndpointTransactions)

	_, err := q.Enqueue(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestQueue_Enqueue_Duplicado(t *testing.T) {
	q, _, _ := buildTestQueue(3)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, first, second, "devuelve el id existente")

	other, err := q.Enqueue(ctx, buildTestItem(t, "t2", "ORD-1"))
	require.NoError(t, err, "otro tenant no colisiona")
	assert.NotEqual(t, first, other)
}

func TestQueue_ClaimNext_OrdenYExclusividad(t *testing.T) {
	q, _, clock := buildTestQueue(3)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	clock.Advance(time.Second)
	second, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-2"))

	a, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, first, a.ID, "el más antiguo primero")
	assert.Equal(t, entity.QueueStatusSending, a.Status)

	b, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w2")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, second, b.ID)

	none, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w3")
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = q.ClaimNext(ctx, entity.EndpointClosings, "w3")
	require.NoError(t, err)
	assert.Nil(t, none, "cada endpoint tiene su propia cola")
}

func TestQueue_ReintentosAcotados(t *testing.T) {
	q, _, clock := buildTestQueue(3)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	require.NoError(t, err)

	wantDelays := []time.Duration{10 * time.Second, 20 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		item, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
		require.NoError(t, err)
		require.NotNil(t, item, "intento %d", attempt)

		status, err := q.ReportFailure(ctx, id, "w1", domain.ErrDeliveryTimeout)
		require.NoError(t, err)

		item, _ = q.Get(ctx, id)
		assert.Equal(t, attempt, item.RetryCount)
		if attempt < 3 {
			assert.Equal(t, entity.QueueStatusFailed, status)
			require.NotNil(t, item.NextAttemptAt)
			assert.Equal(t, clock.Now().Add(wantDelays[attempt-1]), *item.NextAttemptAt)

			early, _ := q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
			assert.Nil(t, early, "no elegible antes de next_attempt_at")
			clock.Advance(wantDelays[attempt-1])
			continue
		}
		assert.Equal(t, entity.QueueStatusFailedPermanent, status)
		assert.Nil(t, item.NextAttemptAt)
		assert.Contains(t, item.LastError, "tiempo de espera")
	}

	clock.Advance(time.Hour)
	item, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
	require.NoError(t, err)
	assert.Nil(t, item, "failed_permanent nunca se vuelve a reclamar")
}

func TestQueue_ReportSuccess_CreaComprobante(t *testing.T) {
	q, store, _ := buildTestQueue(3)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	_, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
	require.NoError(t, err)

	receipt, err := q.ReportSuccess(ctx, id, "w1", appfiscal.ReceiptData{RegistryTransactionID: "REG-77", QRData: "qr://77"})
	require.NoError(t, err)
	assert.Equal(t, "REG-77", receipt.RegistryTransactionID)
	assert.Equal(t, fiscal.PrintModePhysical, receipt.PrintMode)
	assert.Equal(t, fiscal.PrintFormatTicket58, receipt.PrintFormat)

	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusSent, item.Status)
	require.NotNil(t, item.SentAt)

	stored, err := store.Receipts().GetByOrderID(ctx, "t1", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, id, stored.QueueItemID)
}

func TestQueue_SentEsInmutable(t *testing.T) {
	q, _, _ := buildTestQueue(3)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	_, _ = q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
	_, err := q.ReportSuccess(ctx, id, "w1", appfiscal.ReceiptData{RegistryTransactionID: "REG-1"})
	require.NoError(t, err)

	_, err = q.ReportFailure(ctx, id, "w1", errors.New("tarde"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = q.ReportSuccess(ctx, id, "w1", appfiscal.ReceiptData{RegistryTransactionID: "REG-2"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, q.Requeue(ctx, id), domain.ErrConflict)

	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusSent, item.Status)
	assert.Equal(t, 0, item.RetryCount)
}

func TestQueue_ReportSuccess_TokenAjenoNoCreaComprobante(t *testing.T) {
	q, store, _ := buildTestQueue(3)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	_, _ = q.ClaimNext(ctx, entity.EndpointTransactions, "w1")

	_, err := q.ReportSuccess(ctx, id, "w2", appfiscal.ReceiptData{RegistryTransactionID: "REG-1"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.Receipts().GetByQueueItemID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "la transacción se revierte")
	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusSending, item.Status)
}

func TestQueue_RecoverStale(t *testing.T) {
	q, _, clock := buildTestQueue(3)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	_, _ = q.ClaimNext(ctx, entity.EndpointTransactions, "w-caido")

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "lease vigente")

	clock.Advance(31 * time.Second)
	n, err = q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Empty(t, item.ClaimToken)
}

func TestQueue_Release(t *testing.T) {
	q, _, _ := buildTestQueue(3)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))
	_, _ = q.ClaimNext(ctx, entity.EndpointTransactions, "w1")

	assert.ErrorIs(t, q.Release(ctx, id, "w-otro"), domain.ErrConflict)
	require.NoError(t, q.Release(ctx, id, "w1"))

	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusPending, item.Status)
	assert.Zero(t, item.RetryCount)
	assert.Empty(t, item.ClaimToken)

	claimed, err := q.ClaimNext(ctx, entity.EndpointTransactions, "w2")
	require.NoError(t, err)
	require.NotNil(t, claimed, "vuelve a ser elegible de inmediato")
	assert.Equal(t, id, claimed.ID)
	assert.ErrorIs(t, q.Release(ctx, id, "w1"), domain.ErrConflict, "el token anterior ya no vale")
}

func TestQueue_Requeue(t *testing.T) {
	q, _, _ := buildTestQueue(1)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, buildTestItem(t, "t1", "ORD-1"))

	assert.ErrorIs(t, q.Requeue(ctx, id), domain.ErrConflict, "pending no se reencola")

	_, _ = q.ClaimNext(ctx, entity.EndpointTransactions, "w1")
	status, err := q.ReportFailure(ctx, id, "w1", &domain.DeliveryRejectedError{Code: "E104"})
	require.NoError(t, err)
	require.Equal(t, entity.QueueStatusFailedPermanent, status)

	require.NoError(t, q.Requeue(ctx, id))
	item, _ := q.Get(ctx, id)
	assert.Equal(t, entity.QueueStatusPending, item.Status)
	assert.Equal(t, 0, item.RetryCount)
	assert.Contains(t, item.LastError, "E104", "el último error se conserva")
}
