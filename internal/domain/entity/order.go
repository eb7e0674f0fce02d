package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados de orden que emite el sistema de pedidos.
const (
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
	OrderStatusModified  = "modified"
)

// Order representa una orden del restaurante tal como la entrega el sistema de pedidos.
// Los montos llegan en decimal; la conversión a unidades menores ocurre en el mapper fiscal.
type Order struct {
	ID                string
	Status            string // completed | cancelled | refunded | modified
	ServiceType       string // valor interno del sistema de pedidos (ej: "table", "pickup")
	PaymentMethod     string // valor interno (ej: "efectivo", "credit_card")
	Channel           string // origen: web, app, pos, phone, rappi, ...
	Subtotal          decimal.Decimal
	TaxA              decimal.Decimal
	TaxB              decimal.Decimal
	Total             decimal.Decimal
	Discount          decimal.Decimal
	TipPercentage     *int
	ExternalReference string
	PrintMode         string // vacío = valor por defecto configurado
	PrintFormat       string
	CreatedAt         time.Time
	Items             []OrderItem
}

// OrderItem línea de la orden.
type OrderItem struct {
	Name      string
	Quantity  decimal.Decimal // admite fracciones (ej: 0.5 kg)
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Closing representa el cierre diario de caja.
type Closing struct {
	Date             time.Time // se toma la fecha civil local
	TotalSales       decimal.Decimal
	TotalRefunds     decimal.Decimal
	NetSales         decimal.Decimal
	TaxCollected     decimal.Decimal
	TransactionCount int
	CashTotal        decimal.Decimal
	CardTotal        decimal.Decimal
	OtherTotal       decimal.Decimal
	ClosedAt         time.Time
}
