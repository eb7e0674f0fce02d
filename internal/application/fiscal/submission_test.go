package fiscal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	fiscalmap "github.com/jhoicas/fiscal-adapter/internal/domain/fiscal"
	infrafiscal "github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal/signer"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/memory"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

type submissionFixture struct {
	svc   *appfiscal.SubmissionService
	queue *appfiscal.Queue
	certs *certFixture
}

func buildTestSubmission(t *testing.T, enroll bool) *submissionFixture {
	t.Helper()
	certs := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	if enroll {
		_, err := certs.mgr.Enroll(context.Background(), "t1", entity.EnvironmentProduction, buildTestEnrollment())
		require.NoError(t, err)
	}

	loc, err := fiscal.NewLocalizer("America/New_York")
	require.NoError(t, err)
	mapper, err := fiscalmap.NewMapper(fiscalmap.MapperConfig{Localizer: loc, Logger: zerolog.Nop()})
	require.NoError(t, err)

	signerSvc := signer.NewService()
	headers, err := infrafiscal.NewHeaderBuilder(infrafiscal.HeaderConfig{
		Environment:       entity.EnvironmentProduction,
		CertificationCode: "CERT-ABC",
		SoftwareID:        "fiscal-adapter",
		SoftwareVersion:   "2.0.0",
	}, signerSvc)
	require.NoError(t, err)

	store := memory.NewQueueStore()
	q := appfiscal.NewQueue(store, store, appfiscal.DefaultQueueConfig(), nil, zerolog.Nop())
	svc := appfiscal.NewSubmissionService(mapper, signerSvc, certs.mgr, headers, q,
		appfiscal.SubmissionConfig{Environment: entity.EnvironmentProduction, DeviceID: "POS-DEFAULT"}, zerolog.Nop())
	return &submissionFixture{svc: svc, queue: q, certs: certs}
}

func buildSubmissionOrder() *entity.Order {
	return &entity.Order{
		ID:            "ORD-500",
		Status:        "completed",
		ServiceType:   "pickup",
		PaymentMethod: "efectivo",
		Channel:       "pos",
		Subtotal:      decimal.RequireFromString("20.00"),
		TaxA:          decimal.RequireFromString("1.00"),
		TaxB:          decimal.RequireFromString("2.00"),
		Total:         decimal.RequireFromString("23.00"),
		Discount:      decimal.Zero,
		CreatedAt:     time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC),
		Items: []entity.OrderItem{
			{Name: "Quesadilla", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("10.00"), Total: decimal.RequireFromString("20.00")},
		},
	}
}

func TestSubmitOrder_FirmaYEncola(t *testing.T) {
	f := buildTestSubmission(t, true)
	ctx := context.Background()

	res, err := f.svc.SubmitOrder(ctx, "t1", buildSubmissionOrder())
	require.NoError(t, err)
	assert.Equal(t, "ORD-500", res.TransactionID)
	assert.False(t, res.Duplicate)

	item, err := f.queue.Get(ctx, res.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueStatusPending, item.Status)
	assert.Equal(t, entity.QueueKindTransaction, item.Kind)

	env, err := appfiscal.Envelope(item)
	require.NoError(t, err)
	assert.Equal(t, "POS-01", env.Headers[infrafiscal.HeaderDeviceID], "device del perfil de certificado")
	assert.NotEmpty(t, env.Headers[infrafiscal.HeaderRequestSignature])

	var req entity.TransactionRequest
	require.NoError(t, json.Unmarshal(env.Body, &req))
	assert.Equal(t, fiscal.ServiceTakeout, req.ServiceType)
	assert.Equal(t, fiscal.PaymentCash, req.PaymentMode)
	assert.False(t, req.ECommerce)
	assert.Equal(t, "2026-03-10T12:00:00-04:00", req.Timestamp)

	svc := signer.NewService()
	key, _, err := f.certs.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	require.NoError(t, err)
	assert.True(t, svc.Verify(req.Unsigned(), req.Signature, &key.PublicKey), "firma del documento sobre el request sin firma")
	assert.True(t, signer.VerifyCanonical(env.Body, env.Headers[infrafiscal.HeaderRequestSignature], &key.PublicKey),
		"firma de transmisión sobre el cuerpo canónico")
}

func TestSubmitOrder_Duplicada(t *testing.T) {
	f := buildTestSubmission(t, true)
	ctx := context.Background()

	first, err := f.svc.SubmitOrder(ctx, "t1", buildSubmissionOrder())
	require.NoError(t, err)
	second, err := f.svc.SubmitOrder(ctx, "t1", buildSubmissionOrder())
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.QueueItemID, second.QueueItemID)

	cancel := buildSubmissionOrder()
	cancel.Status = "cancelled"
	third, err := f.svc.SubmitOrder(ctx, "t1", cancel)
	require.NoError(t, err)
	assert.False(t, third.Duplicate, "la cancelación es otra acción")
	assert.Equal(t, "ORD-500-CAN", third.TransactionID)
}

func TestSubmitOrder_SinCertificado(t *testing.T) {
	f := buildTestSubmission(t, false)
	_, err := f.svc.SubmitOrder(context.Background(), "t1", buildSubmissionOrder())
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
}

func TestSubmitOrder_MontosInconsistentes(t *testing.T) {
	f := buildTestSubmission(t, true)
	o := buildSubmissionOrder()
	o.Total = decimal.RequireFromString("30.00")
	_, err := f.svc.SubmitOrder(context.Background(), "t1", o)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestSubmitOrder_OrdenVacia(t *testing.T) {
	f := buildTestSubmission(t, true)
	o := buildSubmissionOrder()
	o.Items = nil
	_, err := f.svc.SubmitOrder(context.Background(), "t1", o)
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)
}

func TestSubmitClosing(t *testing.T) {
	f := buildTestSubmission(t, true)
	ctx := context.Background()
	closing := &entity.Closing{
		Date:             time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		TotalSales:       decimal.RequireFromString("500.00"),
		TotalRefunds:     decimal.RequireFromString("20.00"),
		NetSales:         decimal.RequireFromString("480.00"),
		TaxCollected:     decimal.RequireFromString("40.00"),
		TransactionCount: 12,
		CashTotal:        decimal.RequireFromString("200.00"),
		CardTotal:        decimal.RequireFromString("280.00"),
		OtherTotal:       decimal.Zero,
		ClosedAt:         time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC),
	}

	res, err := f.svc.SubmitClosing(ctx, "t1", closing)
	require.NoError(t, err)
	assert.Equal(t, "closing:2026-03-10", res.TransactionID)

	item, err := f.queue.Get(ctx, res.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, entity.EndpointClosings, item.Endpoint)
	assert.Equal(t, fiscal.ActionClosing, item.Action)

	again, err := f.svc.SubmitClosing(ctx, "t1", closing)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}
