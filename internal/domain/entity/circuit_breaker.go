package entity

import "time"

// Estados del circuit breaker por endpoint.
const (
	BreakerClosed   = "CLOSED"    // Entregas normales
	BreakerOpen     = "OPEN"      // Entregas suspendidas hasta cumplir el cooldown
	BreakerHalfOpen = "HALF_OPEN" // Se permite exactamente un envío de prueba
)

// CircuitBreakerState estado de salud de un endpoint del registro.
// Las transiciones son funciones puras sobre el valor; la atomicidad la garantiza el store.
type CircuitBreakerState struct {
	Endpoint            string
	State               string
	ConsecutiveFailures int
	OpenedAt            *time.Time
	ProbeInFlight       bool
	ProbeStartedAt      *time.Time
	UpdatedAt           time.Time
}

// NewCircuitBreakerState estado inicial (CLOSED, sin fallos).
func NewCircuitBreakerState(endpoint string) *CircuitBreakerState {
	return &CircuitBreakerState{Endpoint: endpoint, State: BreakerClosed}
}

// Acquire decide si se permite un intento de entrega en now.
// Devuelve allowed=false mientras OPEN no cumpla el cooldown o mientras haya una prueba en curso;
// probe=true cuando el intento concedido es la prueba única de HALF_OPEN.
// Una prueba cuyo lease superó el cooldown se considera abandonada y se vuelve a conceder.
func (b *CircuitBreakerState) Acquire(now time.Time, cooldown time.Duration) (allowed, probe bool) {
	switch b.State {
	case BreakerOpen:
		if b.OpenedAt != nil && now.Sub(*b.OpenedAt) < cooldown {
			return false, false
		}
		b.State = BreakerHalfOpen
		b.takeProbe(now)
		return true, true
	case BreakerHalfOpen:
		if b.ProbeInFlight && b.ProbeStartedAt != nil && now.Sub(*b.ProbeStartedAt) < cooldown {
			return false, false
		}
		b.takeProbe(now)
		return true, true
	default:
		b.State = BreakerClosed
		b.UpdatedAt = now
		return true, false
	}
}

func (b *CircuitBreakerState) takeProbe(now time.Time) {
	t := now
	b.ProbeInFlight = true
	b.ProbeStartedAt = &t
	b.UpdatedAt = now
}

// OnSuccess registra una entrega exitosa. En HALF_OPEN solo la prueba cierra el circuito;
// un éxito tardío de un envío iniciado antes de abrir no altera OPEN/HALF_OPEN.
func (b *CircuitBreakerState) OnSuccess(now time.Time, probe bool) {
	if b.State != BreakerClosed && !probe {
		return
	}
	b.State = BreakerClosed
	b.ConsecutiveFailures = 0
	b.OpenedAt = nil
	b.ProbeInFlight = false
	b.ProbeStartedAt = nil
	b.UpdatedAt = now
}

// OnFailure registra un fallo de entrega. Al alcanzar threshold fallos consecutivos pasa
// CLOSED→OPEN; una prueba fallida devuelve HALF_OPEN→OPEN y reinicia opened_at.
func (b *CircuitBreakerState) OnFailure(now time.Time, threshold int, probe bool) {
	b.ConsecutiveFailures++
	b.UpdatedAt = now
	switch b.State {
	case BreakerHalfOpen:
		if !probe {
			return
		}
		b.open(now)
	case BreakerOpen:
		// ya abierto: se cuenta el fallo sin mover opened_at
	default:
		if threshold < 1 {
			threshold = 1
		}
		if b.ConsecutiveFailures >= threshold {
			b.open(now)
		}
	}
}

func (b *CircuitBreakerState) open(now time.Time) {
	t := now
	b.State = BreakerOpen
	b.OpenedAt = &t
	b.ProbeInFlight = false
	b.ProbeStartedAt = nil
}

// ReleaseProbe libera la prueba concedida sin resultado (no había nada que entregar).
func (b *CircuitBreakerState) ReleaseProbe(now time.Time) {
	if b.State != BreakerHalfOpen {
		return
	}
	b.ProbeInFlight = false
	b.ProbeStartedAt = nil
	b.UpdatedAt = now
}
