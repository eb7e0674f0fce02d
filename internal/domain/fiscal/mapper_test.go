package fiscal_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	fiscalmap "github.com/jhoicas/fiscal-adapter/internal/domain/fiscal"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

func newMapper(t *testing.T, policy fiscalmap.UnknownStatusPolicy, logBuf *bytes.Buffer) *fiscalmap.Mapper {
	t.Helper()
	loc, err := fiscal.NewLocalizer("America/New_York")
	require.NoError(t, err)
	log := zerolog.Nop()
	if logBuf != nil {
		log = zerolog.New(logBuf)
	}
	m, err := fiscalmap.NewMapper(fiscalmap.MapperConfig{
		Localizer:           loc,
		UnknownStatusPolicy: policy,
		Logger:              log,
	})
	require.NoError(t, err)
	return m
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// buildTestOrder orden válida: 100.00 + 5.00 + 9.98 = 114.98.
func buildTestOrder() *entity.Order {
	tip := 10
	return &entity.Order{
		ID:            "ORD-1001",
		Status:        "completed",
		ServiceType:   "table",
		PaymentMethod: "credit_card",
		Channel:       "web",
		Subtotal:      d("100.00"),
		TaxA:          d("5.00"),
		TaxB:          d("9.98"),
		Total:         d("114.98"),
		Discount:      d("0"),
		TipPercentage: &tip,
		CreatedAt:     time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC),
		Items: []entity.OrderItem{
			{Name: "Crème brûlée", Quantity: d("2"), UnitPrice: d("7.50"), Total: d("15.00")},
			{Name: "Café americano", Quantity: d("0.5"), UnitPrice: d("3.99"), Total: d("1.995")},
		},
	}
}

func TestBuildTransaction_OrdenCompleta(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	req, err := m.BuildTransaction(buildTestOrder())
	require.NoError(t, err)

	assert.Equal(t, "ORD-1001", req.TransactionID)
	assert.Equal(t, fiscal.ActionRegister, req.Action)
	assert.Equal(t, fiscal.TransactionSale, req.TransactionType)
	assert.Equal(t, fiscal.ServiceDineIn, req.ServiceType)
	assert.Equal(t, fiscal.PaymentCard, req.PaymentMode)
	assert.Equal(t, fiscal.PrintModeElectronic, req.PrintMode, "valor por defecto")
	assert.Equal(t, int64(10000), req.Subtotal)
	assert.Equal(t, int64(500), req.TaxA)
	assert.Equal(t, int64(998), req.TaxB)
	assert.Equal(t, int64(11498), req.Total)
	assert.Equal(t, "2026-07-04T14:30:00-04:00", req.Timestamp, "hora local con horario de verano")
	assert.True(t, req.ECommerce)
	assert.Empty(t, req.Signature, "BuildTransaction no firma")

	require.Len(t, req.Items, 2)
	assert.Equal(t, entity.LineItem{Description: "Creme brulee", Quantity: 2000, UnitPrice: 750, LineTotal: 1500}, req.Items[0])
	assert.Equal(t, "Cafe americano", req.Items[1].Description)
	assert.Equal(t, int64(500), req.Items[1].Quantity)
	assert.Equal(t, int64(200), req.Items[1].LineTotal, "199.5 → 200 (mitad a par)")
}

func TestMapOrderToRequest_FirmaAlFinal(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	req, err := m.MapOrderToRequest(buildTestOrder(), "c2lnbmF0dXJh")
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmF0dXJh", req.Signature)

	res := fiscalmap.ValidateTransactionRequest(req)
	assert.True(t, res.Valid, "errores: %v", res.Errors)
	assert.NoError(t, res.Err())
}

func TestBuildTransaction_OrdenVacia(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	o := buildTestOrder()
	o.Items = nil
	_, err := m.BuildTransaction(o)
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)
}

func TestBuildTransaction_Estados(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	cases := []struct {
		status string
		action fiscal.Action
		txType fiscal.TransactionType
		txID   string
	}{
		{"completed", fiscal.ActionRegister, fiscal.TransactionSale, "ORD-1001"},
		{"cancelled", fiscal.ActionCancel, fiscal.TransactionSale, "ORD-1001-CAN"},
		{"refunded", fiscal.ActionCancel, fiscal.TransactionRefund, "ORD-1001-CAN"},
		{"modified", fiscal.ActionModify, fiscal.TransactionSale, "ORD-1001-MOD"},
	}
	for _, c := range cases {
		o := buildTestOrder()
		o.Status = c.status
		req, err := m.BuildTransaction(o)
		require.NoError(t, err, c.status)
		assert.Equal(t, c.action, req.Action, c.status)
		assert.Equal(t, c.txType, req.TransactionType, c.status)
		assert.Equal(t, c.txID, req.TransactionID, c.status)
	}
}

func TestBuildTransaction_EstadoDesconocido_Registra(t *testing.T) {
	var buf bytes.Buffer
	m := newMapper(t, fiscalmap.UnknownStatusRegister, &buf)
	o := buildTestOrder()
	o.Status = "on_hold"
	req, err := m.BuildTransaction(o)
	require.NoError(t, err)
	assert.Equal(t, fiscal.ActionRegister, req.Action)
	assert.Contains(t, buf.String(), "on_hold", "debe quedar advertencia en el log")
}

func TestBuildTransaction_EstadoDesconocido_Rechaza(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusReject, nil)
	o := buildTestOrder()
	o.Status = "on_hold"
	_, err := m.BuildTransaction(o)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestBuildTransaction_CatalogosDesconocidos(t *testing.T) {
	var buf bytes.Buffer
	m := newMapper(t, fiscalmap.UnknownStatusRegister, &buf)
	o := buildTestOrder()
	o.ServiceType = "drive_thru"
	o.PaymentMethod = "bitcoin"
	o.Channel = "rappi"
	req, err := m.BuildTransaction(o)
	require.NoError(t, err)
	assert.Equal(t, fiscal.ServiceDineIn, req.ServiceType)
	assert.Equal(t, fiscal.PaymentOther, req.PaymentMode)
	assert.False(t, req.ECommerce, "marketplace conocido no es comercio electrónico propio")
	assert.Contains(t, buf.String(), "drive_thru")
	assert.Contains(t, buf.String(), "bitcoin")
}

func TestBuildTransaction_DescripcionLarga(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	o := buildTestOrder()
	o.Items[0].Name = strings.Repeat("é", 300)
	req, err := m.BuildTransaction(o)
	require.NoError(t, err)
	assert.Len(t, req.Items[0].Description, 255)
	assert.True(t, fiscal.ValidateASCII(req.Items[0].Description))
}

func TestBuildTransaction_MontoFueraDeRango(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	o := buildTestOrder()
	o.Total = d("1e30")
	_, err := m.BuildTransaction(o)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestNewMapper_ConfigInvalida(t *testing.T) {
	_, err := fiscalmap.NewMapper(fiscalmap.MapperConfig{UnknownStatusPolicy: "ignore"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localizer")
	assert.Contains(t, err.Error(), "ignore")
}

// ── Cierres ───────────────────────────────────────────────────────────────────

func buildTestClosing() *entity.Closing {
	return &entity.Closing{
		Date:             time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC), // 15 de enero en Nueva York
		TotalSales:       d("1520.40"),
		TotalRefunds:     d("20.40"),
		NetSales:         d("1500.00"),
		TaxCollected:     d("120.00"),
		TransactionCount: 42,
		CashTotal:        d("500.00"),
		CardTotal:        d("1000.00"),
		OtherTotal:       d("0"),
		ClosedAt:         time.Date(2026, 1, 16, 4, 5, 0, 0, time.UTC),
	}
}

func TestBuildClosing(t *testing.T) {
	m := newMapper(t, fiscalmap.UnknownStatusRegister, nil)
	req, err := m.BuildClosing(buildTestClosing())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15", req.ClosingDate, "fecha civil local")
	assert.Equal(t, fiscal.ActionClosing, req.Action)
	assert.Equal(t, int64(152040), req.TotalSales)
	assert.Equal(t, int64(150000), req.NetSales)
	assert.Equal(t, "2026-01-15T23:05:00-05:00", req.Timestamp)

	signed, err := m.MapClosingToRequest(buildTestClosing(), "firma")
	require.NoError(t, err)
	res := fiscalmap.ValidateClosingRequest(signed)
	assert.True(t, res.Valid, "errores: %v", res.Errors)
}
