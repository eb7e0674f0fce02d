package fiscal

import (
	"fmt"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// ValidationResult resultado de la validación estructural de un request.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Err devuelve nil si es válido; si no, un *domain.ValidationError (Is ErrValidationFailed).
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return domain.NewValidationError(r.Errors...)
}

type collector struct{ errs []string }

func (c *collector) addf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Sprintf(format, args...))
}

func (c *collector) required(field, value string) {
	if value == "" {
		c.addf("%s es obligatorio", field)
	}
}

func (c *collector) nonNegative(field string, v int64) {
	if v < 0 {
		c.addf("%s no puede ser negativo (%d)", field, v)
	}
}

func (c *collector) text(field, value string) {
	if len(value) > fiscal.MaxTextLength {
		c.addf("%s supera %d caracteres", field, fiscal.MaxTextLength)
	}
	if !fiscal.ValidateASCII(value) {
		c.addf("%s contiene caracteres no ASCII", field)
	}
}

func (c *collector) result() ValidationResult {
	return ValidationResult{Valid: len(c.errs) == 0, Errors: c.errs}
}

// ValidateTransactionRequest valida campos obligatorios, catálogos, montos no negativos,
// formato de fecha, líneas, textos ASCII, propina, suma de montos y presencia de firma.
// Un resultado inválido bloquea el encolado.
func ValidateTransactionRequest(req *entity.TransactionRequest) ValidationResult {
	var c collector
	if req == nil {
		c.addf("request nulo")
		return c.result()
	}
	validateTransactionBody(&c, req)
	c.required("signature", req.Signature)
	return c.result()
}

// ValidateUnsignedTransaction igual que ValidateTransactionRequest sin exigir la firma;
// se usa antes de firmar para no firmar un request inválido.
func ValidateUnsignedTransaction(req *entity.TransactionRequest) ValidationResult {
	var c collector
	if req == nil {
		c.addf("request nulo")
		return c.result()
	}
	validateTransactionBody(&c, req)
	return c.result()
}

func validateTransactionBody(c *collector, req *entity.TransactionRequest) {
	c.required("transaction_id", req.TransactionID)
	c.text("transaction_id", req.TransactionID)
	if !req.Action.Valid() || req.Action == fiscal.ActionClosing {
		c.addf("action inválida: %q", req.Action)
	}
	if !req.ServiceType.Valid() {
		c.addf("service_type inválido: %q", req.ServiceType)
	}
	if !req.TransactionType.Valid() {
		c.addf("transaction_type inválido: %q", req.TransactionType)
	}
	if !req.PrintMode.Valid() {
		c.addf("print_mode inválido: %q", req.PrintMode)
	}
	if !req.PrintFormat.Valid() {
		c.addf("print_format inválido: %q", req.PrintFormat)
	}
	if !req.PaymentMode.Valid() {
		c.addf("payment_mode inválido: %q", req.PaymentMode)
	}

	c.nonNegative("subtotal", req.Subtotal)
	c.nonNegative("tax_a", req.TaxA)
	c.nonNegative("tax_b", req.TaxB)
	c.nonNegative("total", req.Total)
	c.nonNegative("discount", req.Discount)
	if !fiscal.ValidateAmountsSum(req.Subtotal, req.TaxA, req.TaxB, req.Total) {
		c.addf("subtotal + tax_a + tax_b (%d) no coincide con total (%d)",
			req.Subtotal+req.TaxA+req.TaxB, req.Total)
	}
	if req.TipPercentage != nil && (*req.TipPercentage < 0 || *req.TipPercentage > 100) {
		c.addf("tip_percentage fuera de rango 0-100: %d", *req.TipPercentage)
	}

	if !fiscal.ValidateTimestamp(req.Timestamp) {
		c.addf("timestamp con formato inválido: %q", req.Timestamp)
	}
	if req.ExternalReference != "" {
		c.text("external_reference", req.ExternalReference)
	}

	if len(req.Items) == 0 {
		c.addf("items no puede estar vacío")
	}
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		c.required(field+".description", it.Description)
		c.text(field+".description", it.Description)
		c.nonNegative(field+".quantity", it.Quantity)
		c.nonNegative(field+".unit_price", it.UnitPrice)
		c.nonNegative(field+".line_total", it.LineTotal)
	}
}

// ValidateClosingRequest valida el cierre diario con la misma disciplina.
func ValidateClosingRequest(req *entity.ClosingReceiptRequest) ValidationResult {
	var c collector
	if req == nil {
		c.addf("request nulo")
		return c.result()
	}
	validateClosingBody(&c, req)
	c.required("signature", req.Signature)
	return c.result()
}

// ValidateUnsignedClosing ValidateClosingRequest sin exigir la firma.
func ValidateUnsignedClosing(req *entity.ClosingReceiptRequest) ValidationResult {
	var c collector
	if req == nil {
		c.addf("request nulo")
		return c.result()
	}
	validateClosingBody(&c, req)
	return c.result()
}

func validateClosingBody(c *collector, req *entity.ClosingReceiptRequest) {
	if !fiscal.ValidateDate(req.ClosingDate) {
		c.addf("closing_date con formato inválido: %q", req.ClosingDate)
	}
	if req.Action != fiscal.ActionClosing {
		c.addf("action debe ser %q", fiscal.ActionClosing)
	}
	c.nonNegative("total_sales", req.TotalSales)
	c.nonNegative("total_refunds", req.TotalRefunds)
	c.nonNegative("net_sales", req.NetSales)
	c.nonNegative("tax_collected", req.TaxCollected)
	c.nonNegative("cash_total", req.CashTotal)
	c.nonNegative("card_total", req.CardTotal)
	c.nonNegative("other_total", req.OtherTotal)
	if req.TransactionCount < 0 {
		c.addf("transaction_count no puede ser negativo")
	}
	if diff := req.TotalSales - req.TotalRefunds - req.NetSales; diff < -1 || diff > 1 {
		c.addf("total_sales - total_refunds (%d) no coincide con net_sales (%d)",
			req.TotalSales-req.TotalRefunds, req.NetSales)
	}
	if !fiscal.ValidateTimestamp(req.Timestamp) {
		c.addf("timestamp con formato inválido: %q", req.Timestamp)
	}
}
