package fiscal

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
)

// ── Registro fiscal (puerto de salida) ────────────────────────────────────────

// RegistryResult respuesta del registro a una transacción o cierre.
type RegistryResult struct {
	ResultCode    string
	Message       string
	TransactionID string
	QRData        string
}

// EnrollmentRequest solicitud de emisión de certificado.
type EnrollmentRequest struct {
	TenantID    string
	Environment string
	DeviceID    string
	CSRPEM      []byte
}

// EnrollmentResult certificado emitido por el registro.
type EnrollmentResult struct {
	CertificatePEM []byte
	SerialNumber   string
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// AnnulmentRequest solicitud de anulación de un certificado.
type AnnulmentRequest struct {
	TenantID     string
	Environment  string
	SerialNumber string
	Fingerprint  string
	Reason       string
}

// AnnulmentResult Acknowledged=true solo si el registro confirmó la anulación.
// Unsupported=true cuando el registro no expone anulación para ese ambiente.
type AnnulmentResult struct {
	Acknowledged bool
	Unsupported  bool
	Message      string
}

// Registry define el puerto de salida hacia el registro fiscal.
// Send devuelve error solo por fallas de transporte; un rechazo llega como ResultCode distinto
// de éxito. La implementación concreta usa JSON sobre HTTPS; en tests se inyecta un fake.
type Registry interface {
	Send(ctx context.Context, env *entity.Envelope) (*RegistryResult, error)
	Enroll(ctx context.Context, req EnrollmentRequest) (*EnrollmentResult, error)
	Annul(ctx context.Context, req AnnulmentRequest) (*AnnulmentResult, error)
}

// ── Construcción del sobre ────────────────────────────────────────────────────

// EnvelopeInput datos para armar el request autenticado.
type EnvelopeInput struct {
	Endpoint   string
	Body       any // request firmado (TransactionRequest o ClosingReceiptRequest)
	DeviceID   string
	SigningKey *ecdsa.PrivateKey // para la firma de transmisión, si el ambiente la exige
	TraceID    string            // vacío = se genera
}

// EnvelopeBuilder arma el sobre con los headers exigidos por el ambiente.
type EnvelopeBuilder interface {
	BuildEnvelope(ctx context.Context, in EnvelopeInput) (*entity.Envelope, error)
}

// ── Firma ─────────────────────────────────────────────────────────────────────

// Signer firma payloads canónicos en formato fijo Base64.
type Signer interface {
	Sign(payload any, algorithm string, key *ecdsa.PrivateKey) (string, error)
}

// ── Llaves ────────────────────────────────────────────────────────────────────

// KeyVault cifra el material de llave y certificado en reposo. aad ata el cifrado a su dueño.
type KeyVault interface {
	Encrypt(plaintext, aad []byte) ([]byte, error)
	Decrypt(ciphertext, aad []byte) ([]byte, error)
}

// ── Transacciones ─────────────────────────────────────────────────────────────

// QueueTxRunner ejecuta fn en una transacción con repos de cola y comprobantes.
type QueueTxRunner interface {
	RunQueue(ctx context.Context, fn func(
		queueRepo repository.QueueRepository,
		receiptRepo repository.ReceiptRepository,
	) error) error
}

// CertificateTxRunner ejecuta fn en una transacción serializada por (tenant, ambiente).
type CertificateTxRunner interface {
	RunCertificates(ctx context.Context, tenantID, environment string, fn func(
		certRepo repository.CertificateRepository,
	) error) error
}

// ── Métricas ──────────────────────────────────────────────────────────────────

// Metrics puerto de métricas operativas; la implementación concreta usa Prometheus.
type Metrics interface {
	DeliveryOutcome(endpoint, outcome string)
	SetQueueItems(status string, n int)
	SetBreakerState(endpoint, state string)
	SetCertificateDaysToExpiry(tenantID, environment string, days int)
}

// NopMetrics descarta todas las métricas.
type NopMetrics struct{}

func (NopMetrics) DeliveryOutcome(string, string)                 {}
func (NopMetrics) SetQueueItems(string, int)                      {}
func (NopMetrics) SetBreakerState(string, string)                 {}
func (NopMetrics) SetCertificateDaysToExpiry(string, string, int) {}
