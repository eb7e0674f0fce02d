package entity

import (
	"math"
	"time"
)

// Ambientes del registro fiscal.
const (
	EnvironmentDevelopment   = "development"
	EnvironmentPreproduction = "preproduction"
	EnvironmentProduction    = "production"
)

// ValidEnvironment informa si env es un ambiente conocido.
func ValidEnvironment(env string) bool {
	switch env {
	case EnvironmentDevelopment, EnvironmentPreproduction, EnvironmentProduction:
		return true
	}
	return false
}

// CertificateProfile certificado emitido por el registro para un (tenant, ambiente).
// Tras la anulación la metadata se conserva para auditoría y el material cifrado queda nulo.
type CertificateProfile struct {
	ID                   string
	TenantID             string
	Environment          string
	SerialNumber         string
	ValidFrom            time.Time
	ValidUntil           time.Time
	Fingerprint          string // SHA-1 hex del DER
	DeviceID             string
	IsActive             bool
	DeletedAt            *time.Time
	EncryptedPrivateKey  []byte
	EncryptedCertificate []byte
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsUsable activo, no eliminado y con material de llave.
func (c *CertificateProfile) IsUsable() bool {
	return c.IsActive && c.DeletedAt == nil && len(c.EncryptedPrivateKey) > 0
}

// Niveles de alerta por vencimiento.
const (
	ExpiryExpired  = "expired"
	ExpiryCritical = "critical"
	ExpiryUrgent   = "urgent"
	ExpiryWarning  = "warning"
	ExpiryInfo     = "info"
	ExpiryNone     = "none"
)

// ExpiryStatus resultado de evaluar el vencimiento de un certificado.
type ExpiryStatus struct {
	DaysUntilExpiry int
	Level           string
	ShouldNotify    bool
}

// EvaluateExpiry clasifica los días restantes en niveles, en este orden fijo:
// expired (<0), critical (≤7), urgent (≤30), warning (≤90), info (≤1095), none.
func (c *CertificateProfile) EvaluateExpiry(now time.Time) ExpiryStatus {
	days := DaysUntil(c.ValidUntil, now)
	level := ExpiryLevel(days)
	return ExpiryStatus{DaysUntilExpiry: days, Level: level, ShouldNotify: level != ExpiryNone}
}

// DaysUntil días completos entre now y until (negativo si ya pasó).
func DaysUntil(until, now time.Time) int {
	return int(math.Floor(until.Sub(now).Hours() / 24))
}

// ExpiryLevel nivel para un número de días restantes.
func ExpiryLevel(days int) string {
	switch {
	case days < 0:
		return ExpiryExpired
	case days <= 7:
		return ExpiryCritical
	case days <= 30:
		return ExpiryUrgent
	case days <= 90:
		return ExpiryWarning
	case days <= 1095:
		return ExpiryInfo
	default:
		return ExpiryNone
	}
}
