package entity

import (
	"time"

	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// ReceiptRecord comprobante inmutable creado cuando un ítem de la cola llega a sent.
type ReceiptRecord struct {
	ID                    string
	QueueItemID           string
	TenantID              string
	OrderID               string
	RegistryTransactionID string // id asignado por el registro
	QRData                string
	PrintMode             fiscal.PrintMode
	PrintFormat           fiscal.PrintFormat
	CreatedAt             time.Time
}
