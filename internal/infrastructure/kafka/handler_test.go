package kafka_test

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
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/kafka"
)

type fakeSubmitter struct {
	orders   []*entity.Order
	closings []*entity.Closing
	tenant   string
	err      error
}

func (f *fakeSubmitter) SubmitOrder(_ context.Context, tenantID string, order *entity.Order) (*appfiscal.SubmitResult, error) {
	f.tenant = tenantID
	f.orders = append(f.orders, order)
	if f.err != nil {
		return nil, f.err
	}
	return &appfiscal.SubmitResult{QueueItemID: "q-1", TransactionID: order.ID}, nil
}

func (f *fakeSubmitter) SubmitClosing(_ context.Context, tenantID string, closing *entity.Closing) (*appfiscal.SubmitResult, error) {
	f.tenant = tenantID
	f.closings = append(f.closings, closing)
	if f.err != nil {
		return nil, f.err
	}
	return &appfiscal.SubmitResult{QueueItemID: "q-2", TransactionID: "CIERRE"}, nil
}

func newHandler(sub *fakeSubmitter) *kafka.Handler {
	loc, _ := time.LoadLocation("America/New_York")
	return kafka.NewHandler(sub, loc, zerolog.Nop())
}

const orderMessage = `{"type":"order","tenant_id":"t1","payload":{"id":"ORD-1","status":"completed",
	"service_type":"pickup","payment_method":"cash","subtotal":"10","tax_a":"0","tax_b":"0","total":"10",
	"discount":"0","created_at":"2026-03-10T10:00:00Z",
	"items":[{"name":"Taco","quantity":"1","unit_price":"10","total":"10"}]}}`

func TestHandler_Orden(t *testing.T) {
	sub := &fakeSubmitter{}
	res, err := newHandler(sub).Handle(context.Background(), []byte(orderMessage))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", res.TransactionID)
	assert.Equal(t, "t1", sub.tenant)
	require.Len(t, sub.orders, 1)
	assert.Equal(t, "Taco", sub.orders[0].Items[0].Name)
}

func TestHandler_Cierre(t *testing.T) {
	sub := &fakeSubmitter{}
	msg := `{"type":"closing","tenant_id":"t1","payload":{"date":"2026-03-10","total_sales":"100",
		"total_refunds":"0","net_sales":"100","tax_collected":"8","transaction_count":3,
		"cash_total":"100","card_total":"0","other_total":"0","closed_at":"2026-03-11T03:00:00Z"}}`
	res, err := newHandler(sub).Handle(context.Background(), []byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "q-2", res.QueueItemID)
	require.Len(t, sub.closings, 1)
	assert.Equal(t, 3, sub.closings[0].TransactionCount)
}

func TestHandler_MensajesVenenosos(t *testing.T) {
	cases := map[string]string{
		"json roto":       `{"type":`,
		"sin tenant":      `{"type":"order","payload":{}}`,
		"tipo":            `{"type":"refund","tenant_id":"t1","payload":{}}`,
		"fecha de orden":  `{"type":"order","tenant_id":"t1","payload":{"id":"X","created_at":"ayer"}}`,
		"payload no json": `{"type":"closing","tenant_id":"t1","payload":"texto"}`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			_, err := newHandler(sub).Handle(context.Background(), []byte(msg))
			assert.ErrorIs(t, err, kafka.ErrPoisonMessage)
			assert.Empty(t, sub.orders)
		})
	}
}

func TestHandler_ClasificaErroresDelServicio(t *testing.T) {
	sub := &fakeSubmitter{err: domain.NewValidationError("total no cuadra")}
	_, err := newHandler(sub).Handle(context.Background(), []byte(orderMessage))
	assert.ErrorIs(t, err, kafka.ErrPoisonMessage)

	sub = &fakeSubmitter{err: domain.ErrNoActiveCertificate}
	_, err = newHandler(sub).Handle(context.Background(), []byte(orderMessage))
	assert.False(t, errors.Is(err, kafka.ErrPoisonMessage), "sin certificado se reintenta")
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
}
