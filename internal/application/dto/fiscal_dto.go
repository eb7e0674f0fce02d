package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// OrderRequest body para POST /api/fiscal/orders (y payload de Kafka type=order).
type OrderRequest struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	ServiceType       string             `json:"service_type"`
	PaymentMethod     string             `json:"payment_method"`
	Channel           string             `json:"channel,omitempty"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	TaxA              decimal.Decimal    `json:"tax_a"`
	TaxB              decimal.Decimal    `json:"tax_b"`
	Total             decimal.Decimal    `json:"total"`
	Discount          decimal.Decimal    `json:"discount"`
	TipPercentage     *int               `json:"tip_percentage,omitempty"`
	ExternalReference string             `json:"external_reference,omitempty"`
	PrintMode         string             `json:"print_mode,omitempty"`
	PrintFormat       string             `json:"print_format,omitempty"`
	CreatedAt         string             `json:"created_at"` // RFC3339
	Items             []OrderItemRequest `json:"items"`
}

// OrderItemRequest línea de la orden; Quantity admite fracciones.
type OrderItemRequest struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
}

// ToEntity convierte el body en la orden de dominio.
func (r *OrderRequest) ToEntity() (*entity.Order, error) {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("created_at inválido %q: se espera RFC3339", r.CreatedAt))
	}
	order := &entity.Order{
		ID:                r.ID,
		Status:            r.Status,
		ServiceType:       r.ServiceType,
		PaymentMethod:     r.PaymentMethod,
		Channel:           r.Channel,
		Subtotal:          r.Subtotal,
		TaxA:              r.TaxA,
		TaxB:              r.TaxB,
		Total:             r.Total,
		Discount:          r.Discount,
		TipPercentage:     r.TipPercentage,
		ExternalReference: r.ExternalReference,
		PrintMode:         r.PrintMode,
		PrintFormat:       r.PrintFormat,
		CreatedAt:         created,
		Items:             make([]entity.OrderItem, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		order.Items = append(order.Items, entity.OrderItem{
			Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Total: it.Total,
		})
	}
	return order, nil
}

// ClosingRequest body para POST /api/fiscal/closings.
type ClosingRequest struct {
	Date             string          `json:"date"` // YYYY-MM-DD, fecha civil local
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalRefunds     decimal.Decimal `json:"total_refunds"`
	NetSales         decimal.Decimal `json:"net_sales"`
	TaxCollected     decimal.Decimal `json:"tax_collected"`
	TransactionCount int             `json:"transaction_count"`
	CashTotal        decimal.Decimal `json:"cash_total"`
	CardTotal        decimal.Decimal `json:"card_total"`
	OtherTotal       decimal.Decimal `json:"other_total"`
	ClosedAt         string          `json:"closed_at"` // RFC3339
}

// ToEntity interpreta la fecha en loc (zona horaria fiscal) para no correr el día.
func (r *ClosingRequest) ToEntity(loc *time.Location) (*entity.Closing, error) {
	if loc == nil {
		loc = time.UTC
	}
	var problems []string
	date, err := time.ParseInLocation("2006-01-02", r.Date, loc)
	if err != nil {
		problems = append(problems, fmt.Sprintf("date inválida %q: se espera YYYY-MM-DD", r.Date))
	}
	closed, err := time.Parse(time.RFC3339, r.ClosedAt)
	if err != nil {
		problems = append(problems, fmt.Sprintf("closed_at inválido %q: se espera RFC3339", r.ClosedAt))
	}
	if len(problems) > 0 {
		return nil, domain.NewValidationError(problems...)
	}
	return &entity.Closing{
		Date:             date,
		TotalSales:       r.TotalSales,
		TotalRefunds:     r.TotalRefunds,
		NetSales:         r.NetSales,
		TaxCollected:     r.TaxCollected,
		TransactionCount: r.TransactionCount,
		CashTotal:        r.CashTotal,
		CardTotal:        r.CardTotal,
		OtherTotal:       r.OtherTotal,
		ClosedAt:         closed,
	}, nil
}

// SubmitResponse respuesta 202 del encolado.
type SubmitResponse struct {
	QueueItemID   string `json:"queue_item_id"`
	TransactionID string `json:"transaction_id"`
	Duplicate     bool   `json:"duplicate"`
}

// SubmitResponseFrom arma la respuesta desde el resultado del servicio.
func SubmitResponseFrom(r *appfiscal.SubmitResult) SubmitResponse {
	return SubmitResponse{QueueItemID: r.QueueItemID, TransactionID: r.TransactionID, Duplicate: r.Duplicate}
}

// QueueItemResponse ítem de la cola sin el payload firmado.
type QueueItemResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	Kind          string     `json:"kind"`
	Endpoint      string     `json:"endpoint"`
	Action        string     `json:"action"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QueueItemResponseFrom convierte la entidad.
func QueueItemResponseFrom(q *entity.TransactionQueueItem) QueueItemResponse {
	return QueueItemResponse{
		ID:            q.ID,
		OrderID:       q.OrderID,
		Kind:          q.Kind,
		Endpoint:      q.Endpoint,
		Action:        string(q.Action),
		Status:        q.Status,
		RetryCount:    q.RetryCount,
		LastError:     q.LastError,
		NextAttemptAt: q.NextAttemptAt,
		CreatedAt:     q.CreatedAt,
		SentAt:        q.SentAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

// ReceiptResponse comprobante para GET /api/fiscal/receipts/:orderID.
type ReceiptResponse struct {
	ID                    string    `json:"id"`
	QueueItemID           string    `json:"queue_item_id"`
	OrderID               string    `json:"order_id"`
	RegistryTransactionID string    `json:"registry_transaction_id"`
	QRData                string    `json:"qr_data,omitempty"`
	PrintMode             string    `json:"print_mode"`
	PrintFormat           string    `json:"print_format"`
	CreatedAt             time.Time `json:"created_at"`
}

// ReceiptResponseFrom convierte la entidad.
func ReceiptResponseFrom(r *entity.ReceiptRecord) ReceiptResponse {
	return ReceiptResponse{
		ID:                    r.ID,
		QueueItemID:           r.QueueItemID,
		OrderID:               r.OrderID,
		RegistryTransactionID: r.RegistryTransactionID,
		QRData:                r.QRData,
		PrintMode:             string(r.PrintMode),
		PrintFormat:           string(r.PrintFormat),
		CreatedAt:             r.CreatedAt,
	}
}

// EnrollRequest body para POST /api/fiscal/certificates/enroll. Vacíos toman la configuración.
type EnrollRequest struct {
	Environment string `json:"environment,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	LegalName   string `json:"legal_name,omitempty"`
	TaxID       string `json:"tax_id,omitempty"`
	Country     string `json:"country,omitempty"`
}

// AnnulRequest body para POST /api/fiscal/certificates/:id/annul.
type AnnulRequest struct {
	Reason string `json:"reason"`
}

// CertificateProfileResponse metadata del certificado; nunca incluye material de llave.
type CertificateProfileResponse struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Environment  string     `json:"environment"`
	SerialNumber string     `json:"serial_number"`
	Fingerprint  string     `json:"fingerprint"`
	DeviceID     string     `json:"device_id"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidUntil   time.Time  `json:"valid_until"`
	IsActive     bool       `json:"is_active"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CertificateProfileResponseFrom convierte la entidad.
func CertificateProfileResponseFrom(p *entity.CertificateProfile) CertificateProfileResponse {
	return CertificateProfileResponse{
		ID:           p.ID,
		TenantID:     p.TenantID,
		Environment:  p.Environment,
		SerialNumber: p.SerialNumber,
		Fingerprint:  p.Fingerprint,
		DeviceID:     p.DeviceID,
		ValidFrom:    p.ValidFrom,
		ValidUntil:   p.ValidUntil,
		IsActive:     p.IsActive,
		DeletedAt:    p.DeletedAt,
		CreatedAt:    p.CreatedAt,
	}
}

// CertificateStatusResponse GET /api/fiscal/certificates/status.
type CertificateStatusResponse struct {
	Certificate     CertificateProfileResponse `json:"certificate"`
	DaysUntilExpiry int                        `json:"days_until_expiry"`
	Level           string                     `json:"level"`
	ShouldNotify    bool                       `json:"should_notify"`
}

// CertificateStatusResponseFrom convierte el estado del servicio.
func CertificateStatusResponseFrom(s *appfiscal.CertificateStatus) CertificateStatusResponse {
	return CertificateStatusResponse{
		Certificate:     CertificateProfileResponseFrom(s.Profile),
		DaysUntilExpiry: s.Expiry.DaysUntilExpiry,
		Level:           s.Expiry.Level,
		ShouldNotify:    s.Expiry.ShouldNotify,
	}
}

// BreakerResponse estado de un circuit breaker.
type BreakerResponse struct {
	Endpoint            string     `json:"endpoint"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ProbeInFlight       bool       `json:"probe_in_flight"`
}

// ReportResponse GET /api/monitoring/report.
type ReportResponse struct {
	GeneratedAt       time.Time                      `json:"generated_at"`
	QueueCounts       map[string]int                 `json:"queue_counts"`
	PermanentFailures []QueueItemResponse            `json:"permanent_failures"`
	Breakers          []BreakerResponse              `json:"breakers"`
	Certificates      []appfiscal.CertificateWarning `json:"certificates"`
	Alerts            []appfiscal.Alert              `json:"alerts"`
}

// ReportResponseFrom convierte el reporte; los slices nunca salen como null.
func ReportResponseFrom(r *appfiscal.Report) ReportResponse {
	out := ReportResponse{
		GeneratedAt:       r.GeneratedAt,
		QueueCounts:       r.QueueCounts,
		PermanentFailures: make([]QueueItemResponse, 0, len(r.PermanentFailures)),
		Breakers:          make([]BreakerResponse, 0, len(r.Breakers)),
		Certificates:      r.Certificates,
		Alerts:            r.Alerts,
	}
	for _, it := range r.PermanentFailures {
		out.PermanentFailures = append(out.PermanentFailures, QueueItemResponseFrom(it))
	}
	for _, b := range r.Breakers {
		out.Breakers = append(out.Breakers, BreakerResponse{
			Endpoint:            b.Endpoint,
			State:               b.State,
			ConsecutiveFailures: b.ConsecutiveFailures,
			OpenedAt:            b.OpenedAt,
			ProbeInFlight:       b.ProbeInFlight,
		})
	}
	if out.Certificates == nil {
		out.Certificates = []appfiscal.CertificateWarning{}
	}
	if out.Alerts == nil {
		out.Alerts = []appfiscal.Alert{}
	}
	return out
}

// Tipos de mensaje del tópico de entrada.
const (
	MessageTypeOrder   = "order"
	MessageTypeClosing = "closing"
)

// KafkaMessage mensaje del tópico de entrada; Payload es un OrderRequest o ClosingRequest.
type KafkaMessage struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Payload  json.RawMessage `json:"payload"`
}
