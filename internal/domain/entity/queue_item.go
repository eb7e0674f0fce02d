package entity

import (
	"time"

	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// Estados de un ítem de la cola de envío al registro fiscal.
const (
	QueueStatusPending         = "pending"          // Esperando worker
	QueueStatusSending         = "sending"          // Reclamado por un worker (claim_token)
	QueueStatusSent            = "sent"             // Aceptado por el registro (terminal)
	QueueStatusFailed          = "failed"           // Falló; elegible tras next_attempt_at
	QueueStatusFailedPermanent = "failed_permanent" // Reintentos agotados (terminal, requiere operador)
)

// QueueStatuses orden de presentación en reportes.
var QueueStatuses = []string{
	QueueStatusPending,
	QueueStatusSending,
	QueueStatusSent,
	QueueStatusFailed,
	QueueStatusFailedPermanent,
}

// Tipos de ítem.
const (
	QueueKindTransaction = "transaction"
	QueueKindClosing     = "closing"
)

// Endpoints lógicos del registro; también son la llave del circuit breaker.
const (
	EndpointTransactions = "transactions"
	EndpointClosings     = "closings"
)

// Endpoints lista de endpoints que consumen los workers.
var Endpoints = []string{EndpointTransactions, EndpointClosings}

// TransactionQueueItem envuelve un request ya firmado listo para entregar.
type TransactionQueueItem struct {
	ID            string
	TenantID      string
	OrderID       string // orden de origen; los cierres usan "closing:<fecha>"
	Kind          string
	Endpoint      string
	Action        fiscal.Action
	Payload       []byte // sobre (envelope) serializado: headers + cuerpo firmado
	Status        string
	RetryCount    int
	LastError     string
	NextAttemptAt *time.Time
	ClaimToken    string
	ClaimedUntil  *time.Time
	CreatedAt     time.Time
	SentAt        *time.Time
	UpdatedAt     time.Time
}

// IsTerminal sent y failed_permanent no admiten más transiciones automáticas.
func (q *TransactionQueueItem) IsTerminal() bool {
	return q.Status == QueueStatusSent || q.Status == QueueStatusFailedPermanent
}

// IsClaimable informa si un worker puede tomar el ítem en el instante now.
func (q *TransactionQueueItem) IsClaimable(now time.Time) bool {
	switch q.Status {
	case QueueStatusPending:
		return true
	case QueueStatusFailed:
		return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
	}
	return false
}

// Backoff calcula la espera tras el intento número retryCount (1 = primer fallo):
// base·2^(retryCount−1), con tope max.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
