// Package fiscal transforma órdenes y cierres internos en los requests del registro fiscal
// y valida su estructura antes de firmarlos y encolarlos. Usa la codificación de pkg/fiscal.
package fiscal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// UnknownStatusPolicy qué hacer con un estado de orden fuera del catálogo.
type UnknownStatusPolicy string

const (
	// UnknownStatusRegister registra la orden y deja una advertencia en el log.
	UnknownStatusRegister UnknownStatusPolicy = "register"
	// UnknownStatusReject rechaza la orden con ErrValidationFailed.
	UnknownStatusReject UnknownStatusPolicy = "reject"
)

// Valid informa si la política es conocida.
func (p UnknownStatusPolicy) Valid() bool {
	return p == UnknownStatusRegister || p == UnknownStatusReject
}

// MapperConfig parámetros del mapper.
type MapperConfig struct {
	Localizer           *fiscal.Localizer
	UnknownStatusPolicy UnknownStatusPolicy
	DefaultPrintMode    fiscal.PrintMode
	DefaultPrintFormat  fiscal.PrintFormat
	Logger              zerolog.Logger
}

// Mapper convierte órdenes y cierres al formato del registro. No tiene estado mutable.
type Mapper struct {
	loc         *fiscal.Localizer
	policy      UnknownStatusPolicy
	printMode   fiscal.PrintMode
	printFormat fiscal.PrintFormat
	log         zerolog.Logger
}

// NewMapper valida la configuración y construye el mapper.
func NewMapper(cfg MapperConfig) (*Mapper, error) {
	var errs []error
	if cfg.Localizer == nil {
		errs = append(errs, errors.New("localizer requerido"))
	}
	if cfg.UnknownStatusPolicy == "" {
		cfg.UnknownStatusPolicy = UnknownStatusReject
	}
	if !cfg.UnknownStatusPolicy.Valid() {
		errs = append(errs, fmt.Errorf("política de estado desconocido inválida: %q", cfg.UnknownStatusPolicy))
	}
	if cfg.DefaultPrintMode == "" {
		cfg.DefaultPrintMode = fiscal.PrintModeElectronic
	}
	if !cfg.DefaultPrintMode.Valid() {
		errs = append(errs, fmt.Errorf("modo de impresión inválido: %q", cfg.DefaultPrintMode))
	}
	if cfg.DefaultPrintFormat == "" {
		cfg.DefaultPrintFormat = fiscal.PrintFormatTicket80
	}
	if !cfg.DefaultPrintFormat.Valid() {
		errs = append(errs, fmt.Errorf("formato de impresión inválido: %q", cfg.DefaultPrintFormat))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("mapper fiscal: %w", errors.Join(errs...))
	}
	return &Mapper{
		loc:         cfg.Localizer,
		policy:      cfg.UnknownStatusPolicy,
		printMode:   cfg.DefaultPrintMode,
		printFormat: cfg.DefaultPrintFormat,
		log:         cfg.Logger,
	}, nil
}

// Localizer expone la zona usada para las fechas del protocolo.
func (m *Mapper) Localizer() *fiscal.Localizer { return m.loc }

// ── Órdenes ───────────────────────────────────────────────────────────────────

// MapOrderToRequest construye el request y adjunta la firma como último campo.
// La firma debe haberse calculado sobre el resultado de BuildTransaction.
func (m *Mapper) MapOrderToRequest(order *entity.Order, signature string) (*entity.TransactionRequest, error) {
	req, err := m.BuildTransaction(order)
	if err != nil {
		return nil, err
	}
	signed := req.WithSignature(signature)
	return &signed, nil
}

// BuildTransaction aplica el mapeo completo de la orden salvo la firma.
// Los errores de codificación (montos, fecha) abortan el mapeo; nunca se devuelve un request parcial.
func (m *Mapper) BuildTransaction(order *entity.Order) (*entity.TransactionRequest, error) {
	if order == nil {
		return nil, domain.NewValidationError("orden nula")
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("orden %s: %w", order.ID, domain.ErrEmptyOrder)
	}

	action, txType, err := m.mapStatus(order)
	if err != nil {
		return nil, err
	}

	serviceType, ok := fiscal.LookupServiceType(normalizeKey(order.ServiceType))
	if !ok {
		m.log.Warn().Str("order_id", order.ID).Str("service_type", order.ServiceType).
			Str("fallback", string(serviceType)).Msg("tipo de servicio desconocido, se usa el valor por defecto")
	}
	paymentMode, ok := fiscal.LookupPaymentMode(normalizeKey(order.PaymentMethod))
	if !ok {
		m.log.Warn().Str("order_id", order.ID).Str("payment_method", order.PaymentMethod).
			Str("fallback", string(paymentMode)).Msg("medio de pago desconocido, se usa el valor por defecto")
	}

	printMode := m.printMode
	if order.PrintMode != "" {
		printMode = fiscal.PrintMode(order.PrintMode)
	}
	printFormat := m.printFormat
	if order.PrintFormat != "" {
		printFormat = fiscal.PrintFormat(order.PrintFormat)
	}

	amounts, err := toMinorUnitsAll(map[string]decimal.Decimal{
		"subtotal": order.Subtotal,
		"tax_a":    order.TaxA,
		"tax_b":    order.TaxB,
		"total":    order.Total,
		"discount": order.Discount,
	})
	if err != nil {
		return nil, fmt.Errorf("orden %s: %w", order.ID, err)
	}

	items := make([]entity.LineItem, 0, len(order.Items))
	for i, it := range order.Items {
		li, err := buildLineItem(it)
		if err != nil {
			return nil, fmt.Errorf("orden %s línea %d: %w", order.ID, i+1, err)
		}
		items = append(items, li)
	}

	if order.CreatedAt.IsZero() {
		return nil, domain.NewValidationError(fmt.Sprintf("orden %s: fecha de creación vacía", order.ID))
	}

	return &entity.TransactionRequest{
		TransactionID:     TransactionID(order.ID, action),
		Action:            action,
		ServiceType:       serviceType,
		TransactionType:   txType,
		PrintMode:         printMode,
		PrintFormat:       printFormat,
		PaymentMode:       paymentMode,
		Subtotal:          amounts["subtotal"],
		TaxA:              amounts["tax_a"],
		TaxB:              amounts["tax_b"],
		Total:             amounts["total"],
		TipPercentage:     order.TipPercentage,
		Discount:          amounts["discount"],
		Timestamp:         m.loc.LocalizeTimestamp(order.CreatedAt),
		ExternalReference: fiscal.SanitizeASCII(order.ExternalReference, fiscal.MaxTextLength),
		ECommerce:         fiscal.IsECommerceChannel(normalizeKey(order.Channel)),
		Items:             items,
	}, nil
}

// mapStatus estado de orden → acción y tipo de transacción.
func (m *Mapper) mapStatus(order *entity.Order) (fiscal.Action, fiscal.TransactionType, error) {
	switch normalizeKey(order.Status) {
	case entity.OrderStatusCompleted:
		return fiscal.ActionRegister, fiscal.TransactionSale, nil
	case entity.OrderStatusCancelled:
		return fiscal.ActionCancel, fiscal.TransactionSale, nil
	case entity.OrderStatusRefunded:
		return fiscal.ActionCancel, fiscal.TransactionRefund, nil
	case entity.OrderStatusModified:
		return fiscal.ActionModify, fiscal.TransactionSale, nil
	}
	if m.policy == UnknownStatusReject {
		return "", "", domain.NewValidationError(
			fmt.Sprintf("orden %s: estado %q sin acción fiscal", order.ID, order.Status))
	}
	m.log.Warn().Str("order_id", order.ID).Str("status", order.Status).
		Msg("estado de orden desconocido, se registra como venta")
	return fiscal.ActionRegister, fiscal.TransactionSale, nil
}

// TransactionID id de transacción por (orden, acción): el registro usa el id de la orden y
// las acciones posteriores agregan un sufijo para no colisionar con el alta original.
func TransactionID(orderID string, action fiscal.Action) string {
	id := fiscal.SanitizeASCII(orderID, fiscal.MaxTextLength-4)
	switch action {
	case fiscal.ActionCancel:
		return id + "-CAN"
	case fiscal.ActionModify:
		return id + "-MOD"
	}
	return id
}

func buildLineItem(it entity.OrderItem) (entity.LineItem, error) {
	qty, err := fiscal.QuantityToUnits(it.Quantity)
	if err != nil {
		return entity.LineItem{}, fmt.Errorf("cantidad: %w", err)
	}
	unit, err := fiscal.ToMinorUnits(it.UnitPrice)
	if err != nil {
		return entity.LineItem{}, fmt.Errorf("precio unitario: %w", err)
	}
	total, err := fiscal.ToMinorUnits(it.Total)
	if err != nil {
		return entity.LineItem{}, fmt.Errorf("total de línea: %w", err)
	}
	return entity.LineItem{
		Description: fiscal.SanitizeASCII(it.Name, fiscal.MaxTextLength),
		Quantity:    qty,
		UnitPrice:   unit,
		LineTotal:   total,
	}, nil
}

func toMinorUnitsAll(in map[string]decimal.Decimal) (map[string]int64, error) {
	out := make(map[string]int64, len(in))
	var errs []error
	for name, v := range in {
		cents, err := fiscal.ToMinorUnits(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out[name] = cents
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ── Cierres ───────────────────────────────────────────────────────────────────

// MapClosingToRequest construye el request de cierre y adjunta la firma.
func (m *Mapper) MapClosingToRequest(closing *entity.Closing, signature string) (*entity.ClosingReceiptRequest, error) {
	req, err := m.BuildClosing(closing)
	if err != nil {
		return nil, err
	}
	signed := req.WithSignature(signature)
	return &signed, nil
}

// BuildClosing mapea el cierre diario; la llave es la fecha civil local del cierre.
func (m *Mapper) BuildClosing(closing *entity.Closing) (*entity.ClosingReceiptRequest, error) {
	if closing == nil {
		return nil, domain.NewValidationError("cierre nulo")
	}
	if closing.Date.IsZero() || closing.ClosedAt.IsZero() {
		return nil, domain.NewValidationError("cierre sin fecha")
	}
	amounts, err := toMinorUnitsAll(map[string]decimal.Decimal{
		"total_sales":   closing.TotalSales,
		"total_refunds": closing.TotalRefunds,
		"net_sales":     closing.NetSales,
		"tax_collected": closing.TaxCollected,
		"cash_total":    closing.CashTotal,
		"card_total":    closing.CardTotal,
		"other_total":   closing.OtherTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("cierre: %w", err)
	}
	return &entity.ClosingReceiptRequest{
		ClosingDate:      m.loc.LocalDate(closing.Date),
		Action:           fiscal.ActionClosing,
		TotalSales:       amounts["total_sales"],
		TotalRefunds:     amounts["total_refunds"],
		NetSales:         amounts["net_sales"],
		TaxCollected:     amounts["tax_collected"],
		TransactionCount: closing.TransactionCount,
		CashTotal:        amounts["cash_total"],
		CardTotal:        amounts["card_total"],
		OtherTotal:       amounts["other_total"],
		Timestamp:        m.loc.LocalizeTimestamp(closing.ClosedAt),
	}, nil
}
