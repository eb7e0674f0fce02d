package entity

import "github.com/jhoicas/fiscal-adapter/pkg/fiscal"

// TransactionRequest evento fiscal registrable, ya codificado según el protocolo del registro.
// El orden de los campos es el del cuerpo JSON; Signature va al final y se calcula sobre el resto.
type TransactionRequest struct {
	TransactionID     string                 `json:"transaction_id"`
	Action            fiscal.Action          `json:"action"`
	ServiceType       fiscal.ServiceType     `json:"service_type"`
	TransactionType   fiscal.TransactionType `json:"transaction_type"`
	PrintMode         fiscal.PrintMode       `json:"print_mode"`
	PrintFormat       fiscal.PrintFormat     `json:"print_format"`
	PaymentMode       fiscal.PaymentMode     `json:"payment_mode"`
	Subtotal          int64                  `json:"subtotal"`
	TaxA              int64                  `json:"tax_a"`
	TaxB              int64                  `json:"tax_b"`
	Total             int64                  `json:"total"`
	TipPercentage     *int                   `json:"tip_percentage,omitempty"`
	Discount          int64                  `json:"discount"`
	Timestamp         string                 `json:"timestamp"`
	ExternalReference string                 `json:"external_reference,omitempty"`
	ECommerce         bool                   `json:"e_commerce"`
	Items             []LineItem             `json:"items"`
	Signature         string                 `json:"signature,omitempty"`
}

// LineItem línea del evento. Quantity en milésimas de unidad; montos en unidades menores.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

// Unsigned devuelve una copia sin firma: es el contenido sobre el que se firma.
func (r TransactionRequest) Unsigned() TransactionRequest {
	r.Signature = ""
	r.Items = append([]LineItem(nil), r.Items...)
	return r
}

// WithSignature devuelve una copia con la firma adjunta como último campo.
func (r TransactionRequest) WithSignature(signature string) TransactionRequest {
	r.Items = append([]LineItem(nil), r.Items...)
	r.Signature = signature
	return r
}

// ClosingReceiptRequest agregado diario (cierre), con la misma disciplina de firma.
type ClosingReceiptRequest struct {
	ClosingDate      string        `json:"closing_date"`
	Action           fiscal.Action `json:"action"`
	TotalSales       int64         `json:"total_sales"`
	TotalRefunds     int64         `json:"total_refunds"`
	NetSales         int64         `json:"net_sales"`
	TaxCollected     int64         `json:"tax_collected"`
	TransactionCount int           `json:"transaction_count"`
	CashTotal        int64         `json:"cash_total"`
	CardTotal        int64         `json:"card_total"`
	OtherTotal       int64         `json:"other_total"`
	Timestamp        string        `json:"timestamp"`
	Signature        string        `json:"signature,omitempty"`
}

// Unsigned copia sin firma.
func (r ClosingReceiptRequest) Unsigned() ClosingReceiptRequest {
	r.Signature = ""
	return r
}

// WithSignature copia con firma.
func (r ClosingReceiptRequest) WithSignature(signature string) ClosingReceiptRequest {
	r.Signature = signature
	return r
}

// ClosingOrderID referencia de cola para un cierre (no existe orden de origen).
func ClosingOrderID(closingDate string) string {
	return "closing:" + closingDate
}
