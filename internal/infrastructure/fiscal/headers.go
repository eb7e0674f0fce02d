package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal/signer"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// ── Headers del protocolo ─────────────────────────────────────────────────────

const (
	HeaderCertificationCode = "X-Certification-Code"
	HeaderDeviceID          = "X-Device-Id"
	HeaderSoftwareID        = "X-Software-Id"
	HeaderSoftwareVersion   = "X-Software-Version"
	HeaderEnvironment       = "X-Environment"
	HeaderRequestSignature  = "X-Request-Signature"
	HeaderTraceID           = "X-Trace-Id"
	HeaderContentType       = "Content-Type"

	contentTypeJSON = "application/json"
)

// KnownHeaders headers que el builder sabe producir.
var KnownHeaders = []string{
	HeaderCertificationCode,
	HeaderDeviceID,
	HeaderSoftwareID,
	HeaderSoftwareVersion,
	HeaderEnvironment,
	HeaderRequestSignature,
	HeaderTraceID,
}

// DefaultRequiredHeaders subconjunto obligatorio por ambiente cuando la configuración no lo define.
func DefaultRequiredHeaders(environment string) []string {
	base := []string{
		HeaderCertificationCode,
		HeaderDeviceID,
		HeaderSoftwareID,
		HeaderSoftwareVersion,
		HeaderEnvironment,
		HeaderTraceID,
	}
	if environment == entity.EnvironmentDevelopment {
		return base
	}
	return append(base, HeaderRequestSignature)
}

// Rutas del registro por endpoint lógico.
var endpointPaths = map[string]string{
	entity.EndpointTransactions: "/transactions",
	entity.EndpointClosings:     "/closings",
}

// HeaderConfig credenciales e identidad del software ante el registro.
type HeaderConfig struct {
	Environment       string
	CertificationCode string
	SoftwareID        string
	SoftwareVersion   string
	// RequiredHeaders nombres obligatorios; vacío = DefaultRequiredHeaders(Environment).
	RequiredHeaders []string
}

// HeaderBuilder arma sobres autenticados para el registro.
type HeaderBuilder struct {
	cfg      HeaderConfig
	required map[string]bool
	signer   *signer.Service
}

var _ appfiscal.EnvelopeBuilder = (*HeaderBuilder)(nil)

// NewHeaderBuilder valida la configuración (versión semántica, ambiente, nombres de headers).
func NewHeaderBuilder(cfg HeaderConfig, signerSvc *signer.Service) (*HeaderBuilder, error) {
	if !entity.ValidEnvironment(cfg.Environment) {
		return nil, fmt.Errorf("headers: ambiente inválido %q", cfg.Environment)
	}
	if !fiscal.ValidateSemver(cfg.SoftwareVersion) {
		return nil, fmt.Errorf("headers: versión de software %q no es MAJOR.MINOR.PATCH", cfg.SoftwareVersion)
	}
	names := cfg.RequiredHeaders
	if len(names) == 0 {
		names = DefaultRequiredHeaders(cfg.Environment)
	}
	known := make(map[string]string, len(KnownHeaders))
	for _, h := range KnownHeaders {
		known[strings.ToLower(h)] = h
	}
	required := make(map[string]bool, len(names))
	for _, n := range names {
		canonical, ok := known[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("headers: header obligatorio desconocido %q", n)
		}
		required[canonical] = true
	}
	return &HeaderBuilder{cfg: cfg, required: required, signer: signerSvc}, nil
}

// Environment ambiente configurado.
func (b *HeaderBuilder) Environment() string { return b.cfg.Environment }

// Requires informa si el header es obligatorio en el ambiente.
func (b *HeaderBuilder) Requires(header string) bool { return b.required[header] }

// BuildEnvelope canonicaliza el cuerpo, completa los headers y calcula la firma de transmisión
// cuando el ambiente la exige. Falla con ErrValidationFailed si un header obligatorio queda vacío.
func (b *HeaderBuilder) BuildEnvelope(ctx context.Context, in appfiscal.EnvelopeInput) (*entity.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := endpointPaths[in.Endpoint]
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("endpoint desconocido %q", in.Endpoint))
	}
	body, err := signer.Canonicalize(in.Body)
	if err != nil {
		return nil, fmt.Errorf("sobre: %w", err)
	}

	traceID := in.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	headers := b.baseHeaders(in.DeviceID, traceID)
	headers[HeaderContentType] = contentTypeJSON

	if b.required[HeaderRequestSignature] {
		if in.SigningKey == nil {
			return nil, fmt.Errorf("sobre: firma de transmisión: %w", domain.ErrNoKeyMaterial)
		}
		sig, err := b.signer.SignCanonical(body, fiscal.SignatureAlgorithmES256, in.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("sobre: firma de transmisión: %w", err)
		}
		headers[HeaderRequestSignature] = sig
	}

	if err := b.checkRequired(headers); err != nil {
		return nil, err
	}
	return &entity.Envelope{
		Endpoint: in.Endpoint,
		Path:     path,
		Headers:  headers,
		Body:     json.RawMessage(body),
	}, nil
}

// baseHeaders headers de identidad, sin firma ni Content-Type. Los valores vacíos se omiten.
func (b *HeaderBuilder) baseHeaders(deviceID, traceID string) map[string]string {
	h := make(map[string]string, len(KnownHeaders)+1)
	set := func(name, value string) {
		if value != "" {
			h[name] = value
		}
	}
	set(HeaderCertificationCode, b.cfg.CertificationCode)
	set(HeaderDeviceID, deviceID)
	set(HeaderSoftwareID, b.cfg.SoftwareID)
	set(HeaderSoftwareVersion, b.cfg.SoftwareVersion)
	set(HeaderEnvironment, b.cfg.Environment)
	set(HeaderTraceID, traceID)
	return h
}

func (b *HeaderBuilder) checkRequired(headers map[string]string) error {
	var missing []string
	for name := range b.required {
		if headers[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	msgs := make([]string, len(missing))
	for i, m := range missing {
		msgs[i] = fmt.Sprintf("header %s obligatorio en %s", m, b.cfg.Environment)
	}
	return domain.NewValidationError(msgs...)
}
