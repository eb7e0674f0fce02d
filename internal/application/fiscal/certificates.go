package fiscal

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/fiscal/signer"
)

// CertificateConfig comportamiento del gestor de certificados.
type CertificateConfig struct {
	// AssumeAnnulmentWhenUnsupported da por anulado el certificado cuando el registro
	// no expone anulación para el ambiente. Por defecto se exige confirmación.
	AssumeAnnulmentWhenUnsupported bool
}

// EnrollmentConfig datos del sujeto del CSR.
type EnrollmentConfig struct {
	DeviceID  string
	LegalName string
	TaxID     string
	Country   string // ISO 3166 alfa-2
}

// CertificateStatus perfil activo con su evaluación de vencimiento.
type CertificateStatus struct {
	Profile *entity.CertificateProfile
	Expiry  entity.ExpiryStatus
}

// CertificateManager ciclo de vida de los certificados: emisión, vencimiento y anulación.
// Anulación y el guardado de una emisión se serializan por (tenant, ambiente) con CertificateTxRunner.
type CertificateManager struct {
	repo     repository.CertificateRepository
	tx       CertificateTxRunner
	registry Registry
	vault    KeyVault
	cfg      CertificateConfig
	metrics  Metrics
	log      zerolog.Logger
	now      func() time.Time

	enrollMu  sync.Mutex
	enrolling map[string]chan struct{}
}

// NewCertificateManager construye el gestor.
func NewCertificateManager(
	repo repository.CertificateRepository,
	tx CertificateTxRunner,
	registry Registry,
	vault KeyVault,
	cfg CertificateConfig,
	metrics Metrics,
	log zerolog.Logger,
) *CertificateManager {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &CertificateManager{
		repo:      repo,
		tx:        tx,
		registry:  registry,
		vault:     vault,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		enrolling: make(map[string]chan struct{}),
	}
}

// WithClock reemplaza el reloj (tests).
func (m *CertificateManager) WithClock(now func() time.Time) *CertificateManager {
	m.now = now
	return m
}

// ── Emisión ───────────────────────────────────────────────────────────────────

// Enroll genera una llave P-256 nueva, pide el certificado al registro y guarda el perfil cifrado.
// Falla con domain.ErrActiveCertificateExists si el (tenant, ambiente) ya tiene uno activo.
//
// La llamada al registro ocurre fuera de toda transacción: el lock del (tenant, ambiente) se
// toma para verificar antes y para revalidar y guardar después. Dentro del proceso las emisiones
// del mismo par se serializan; entre réplicas la revalidación y el índice único deciden, y el
// certificado emitido que pierde la carrera se anula en el registro.
func (m *CertificateManager) Enroll(ctx context.Context, tenantID, environment string, cfg EnrollmentConfig) (*entity.CertificateProfile, error) {
	if err := validateEnrollment(tenantID, environment, cfg); err != nil {
		return nil, err
	}
	wrap := func(err error) error {
		return fmt.Errorf("emitir certificado %s/%s: %w", tenantID, environment, err)
	}

	release, err := m.reserve(ctx, tenantID, environment)
	if err != nil {
		return nil, wrap(err)
	}
	defer release()

	err = m.tx.RunCertificates(ctx, tenantID, environment, func(certRepo repository.CertificateRepository) error {
		return ensureNoActive(ctx, certRepo, tenantID, environment)
	})
	if err != nil {
		return nil, wrap(err)
	}

	profile, err := m.issue(ctx, tenantID, environment, cfg)
	if err != nil {
		return nil, wrap(err)
	}

	err = m.tx.RunCertificates(ctx, tenantID, environment, func(certRepo repository.CertificateRepository) error {
		if err := ensureNoActive(ctx, certRepo, tenantID, environment); err != nil {
			return err
		}
		purged, err := certRepo.PurgeDeleted(ctx, tenantID, environment)
		if err != nil {
			return fmt.Errorf("purgar perfiles anulados: %w", err)
		}
		if purged > 0 {
			m.log.Info().Str("tenant_id", tenantID).Str("environment", environment).
				Int64("purged", purged).Msg("perfiles anulados eliminados")
		}
		return certRepo.Create(ctx, profile)
	})
	if err != nil {
		m.discardIssued(ctx, profile, err)
		return nil, wrap(err)
	}

	m.log.Info().
		Str("tenant_id", tenantID).
		Str("environment", environment).
		Str("serial_number", profile.SerialNumber).
		Str("fingerprint", profile.Fingerprint).
		Time("valid_until", profile.ValidUntil).
		Msg("certificado emitido")
	return profile, nil
}

// reserve serializa las emisiones del (tenant, ambiente) dentro del proceso.
func (m *CertificateManager) reserve(ctx context.Context, tenantID, environment string) (func(), error) {
	key := tenantID + "|" + environment
	m.enrollMu.Lock()
	slot, ok := m.enrolling[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.enrolling[key] = slot
	}
	m.enrollMu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func ensureNoActive(ctx context.Context, certRepo repository.CertificateRepository, tenantID, environment string) error {
	_, err := certRepo.GetActive(ctx, tenantID, environment)
	switch {
	case err == nil:
		return domain.ErrActiveCertificateExists
	case errors.Is(err, domain.ErrNotFound):
		return nil
	}
	return err
}

// issue genera llave y CSR, obtiene el certificado del registro y arma el perfil cifrado.
func (m *CertificateManager) issue(ctx context.Context, tenantID, environment string, cfg EnrollmentConfig) (*entity.CertificateProfile, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generar llave: %w", err)
	}
	csr, err := buildCSR(key, environment, cfg)
	if err != nil {
		return nil, err
	}

	res, err := m.registry.Enroll(ctx, EnrollmentRequest{
		TenantID:    tenantID,
		Environment: environment,
		DeviceID:    cfg.DeviceID,
		CSRPEM:      csr,
	})
	if err != nil {
		return nil, fmt.Errorf("solicitar certificado: %w", err)
	}

	cert, err := parseIssuedCertificate(res.CertificatePEM)
	if err != nil {
		return nil, err
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, fmt.Errorf("%w: la llave pública emitida no corresponde al CSR", domain.ErrInvalidCertificate)
	}
	fingerprint, err := signer.CertificateFingerprint(res.CertificatePEM)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	p := &entity.CertificateProfile{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Environment:  environment,
		SerialNumber: res.SerialNumber,
		ValidFrom:    res.ValidFrom,
		ValidUntil:   res.ValidUntil,
		Fingerprint:  fingerprint,
		DeviceID:     cfg.DeviceID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.SerialNumber == "" {
		p.SerialNumber = cert.SerialNumber.Text(16)
	}
	if p.ValidFrom.IsZero() {
		p.ValidFrom = cert.NotBefore.UTC()
	}
	if p.ValidUntil.IsZero() {
		p.ValidUntil = cert.NotAfter.UTC()
	}

	keyPEM, err := signer.EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	aad := profileAAD(p)
	if p.EncryptedPrivateKey, err = m.vault.Encrypt(keyPEM, aad); err != nil {
		return nil, fmt.Errorf("cifrar llave: %w", err)
	}
	if p.EncryptedCertificate, err = m.vault.Encrypt(res.CertificatePEM, aad); err != nil {
		return nil, fmt.Errorf("cifrar certificado: %w", err)
	}
	return p, nil
}

// discardIssued pide la anulación de un certificado emitido que no se pudo guardar.
// Best effort: el resultado solo se registra en el log.
func (m *CertificateManager) discardIssued(ctx context.Context, p *entity.CertificateProfile, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	log := m.log.With().
		Str("tenant_id", p.TenantID).
		Str("environment", p.Environment).
		Str("serial_number", p.SerialNumber).
		AnErr("cause", cause).
		Logger()
	res, err := m.registry.Annul(ctx, AnnulmentRequest{
		TenantID:     p.TenantID,
		Environment:  p.Environment,
		SerialNumber: p.SerialNumber,
		Fingerprint:  p.Fingerprint,
		Reason:       "emisión descartada: no se pudo registrar el perfil",
	})
	switch {
	case err != nil:
		log.Error().Err(err).Msg("certificado emitido huérfano: la anulación falló")
	case !res.Acknowledged:
		log.Error().Str("message", res.Message).Msg("certificado emitido huérfano: anulación no confirmada")
	default:
		log.Warn().Msg("certificado emitido descartado y anulado en el registro")
	}
}

func validateEnrollment(tenantID, environment string, cfg EnrollmentConfig) error {
	var msgs []string
	if tenantID == "" {
		msgs = append(msgs, "tenant_id es obligatorio")
	}
	if !entity.ValidEnvironment(environment) {
		msgs = append(msgs, fmt.Sprintf("ambiente desconocido %q", environment))
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		msgs = append(msgs, "device_id es obligatorio")
	}
	if strings.TrimSpace(cfg.LegalName) == "" {
		msgs = append(msgs, "razón social obligatoria")
	}
	if strings.TrimSpace(cfg.TaxID) == "" {
		msgs = append(msgs, "identificación tributaria obligatoria")
	}
	if len(cfg.Country) != 2 {
		msgs = append(msgs, "country debe ser un código de dos letras")
	}
	if len(msgs) > 0 {
		return domain.NewValidationError(msgs...)
	}
	return nil
}

// buildCSR CN=dispositivo, O=razón social, SERIALNUMBER=id tributario, OU=ambiente, C=país.
func buildCSR(key *ecdsa.PrivateKey, environment string, cfg EnrollmentConfig) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:         cfg.DeviceID,
			Organization:       []string{cfg.LegalName},
			SerialNumber:       cfg.TaxID,
			OrganizationalUnit: []string{environment},
			Country:            []string{strings.ToUpper(cfg.Country)},
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, fmt.Errorf("generar CSR: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

func parseIssuedCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: respuesta de emisión sin certificado PEM", domain.ErrInvalidCertificate)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCertificate, err)
	}
	return cert, nil
}

func profileAAD(p *entity.CertificateProfile) []byte {
	return []byte(p.TenantID + "|" + p.Environment + "|" + p.ID)
}

// ── Anulación ─────────────────────────────────────────────────────────────────

// Annul pide la anulación al registro y, con su confirmación, desactiva el perfil y anula el
// material de llave. Sin confirmación devuelve domain.ErrAnnulmentNotAcknowledged.
func (m *CertificateManager) Annul(ctx context.Context, profileID, reason string) (*entity.CertificateProfile, error) {
	current, err := m.repo.GetByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("anular %s: %w", profileID, err)
	}

	var annulled *entity.CertificateProfile
	err = m.tx.RunCertificates(ctx, current.TenantID, current.Environment, func(certRepo repository.CertificateRepository) error {
		p, err := certRepo.GetByID(ctx, profileID)
		if err != nil {
			return err
		}
		if !p.IsActive || p.DeletedAt != nil {
			return fmt.Errorf("%w: el certificado ya está anulado", domain.ErrConflict)
		}

		res, err := m.registry.Annul(ctx, AnnulmentRequest{
			TenantID:     p.TenantID,
			Environment:  p.Environment,
			SerialNumber: p.SerialNumber,
			Fingerprint:  p.Fingerprint,
			Reason:       reason,
		})
		if err != nil {
			return fmt.Errorf("solicitar anulación: %w", err)
		}
		switch {
		case res.Acknowledged:
		case res.Unsupported && m.cfg.AssumeAnnulmentWhenUnsupported:
			m.log.Warn().Str("tenant_id", p.TenantID).Str("environment", p.Environment).
				Str("serial_number", p.SerialNumber).
				Msg("el registro no soporta anulación en este ambiente; se anula localmente")
		default:
			if res.Message != "" {
				return fmt.Errorf("%w: %s", domain.ErrAnnulmentNotAcknowledged, res.Message)
			}
			return domain.ErrAnnulmentNotAcknowledged
		}

		at := m.now().UTC()
		if err := certRepo.Annul(ctx, p.ID, at); err != nil {
			return err
		}
		p.IsActive = false
		p.DeletedAt = &at
		p.EncryptedPrivateKey = nil
		p.EncryptedCertificate = nil
		p.UpdatedAt = at
		annulled = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anular %s: %w", profileID, err)
	}

	m.log.Info().
		Str("tenant_id", annulled.TenantID).
		Str("environment", annulled.Environment).
		Str("serial_number", annulled.SerialNumber).
		Str("reason", reason).
		Msg("certificado anulado")
	return annulled, nil
}

// ── Uso y vencimiento ─────────────────────────────────────────────────────────

// SigningKey descifra la llave del certificado activo. Sin certificado activo, vencido o aún
// no vigente devuelve domain.ErrNoActiveCertificate.
func (m *CertificateManager) SigningKey(ctx context.Context, tenantID, environment string) (*ecdsa.PrivateKey, *entity.CertificateProfile, error) {
	p, err := m.repo.GetActive(ctx, tenantID, environment)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s/%s: %w", tenantID, environment, domain.ErrNoActiveCertificate)
		}
		return nil, nil, err
	}
	if !p.IsUsable() {
		return nil, nil, fmt.Errorf("%s/%s: %w", tenantID, environment, domain.ErrNoActiveCertificate)
	}
	now := m.now()
	if now.Before(p.ValidFrom) {
		return nil, nil, fmt.Errorf("%s/%s: %w: %w desde %s", tenantID, environment,
			domain.ErrNoActiveCertificate, domain.ErrCertificateNotYetValid, p.ValidFrom.UTC().Format(time.RFC3339))
	}
	if exp := p.EvaluateExpiry(now); exp.Level == entity.ExpiryExpired {
		return nil, nil, fmt.Errorf("%s/%s: %w: certificado vencido", tenantID, environment, domain.ErrNoActiveCertificate)
	}
	keyPEM, err := m.vault.Decrypt(p.EncryptedPrivateKey, profileAAD(p))
	if err != nil {
		return nil, nil, fmt.Errorf("descifrar llave %s: %w", p.ID, err)
	}
	key, err := signer.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	return key, p, nil
}

// CertificatePEM descifra el certificado del perfil.
func (m *CertificateManager) CertificatePEM(p *entity.CertificateProfile) ([]byte, error) {
	if len(p.EncryptedCertificate) == 0 {
		return nil, domain.ErrNoActiveCertificate
	}
	return m.vault.Decrypt(p.EncryptedCertificate, profileAAD(p))
}

// EvaluateExpiry evalúa el vencimiento de un perfil en now.
func (m *CertificateManager) EvaluateExpiry(p *entity.CertificateProfile, now time.Time) entity.ExpiryStatus {
	return p.EvaluateExpiry(now)
}

// Get perfil por id, activo o anulado.
func (m *CertificateManager) Get(ctx context.Context, profileID string) (*entity.CertificateProfile, error) {
	return m.repo.GetByID(ctx, profileID)
}

// Status perfil activo y su vencimiento.
func (m *CertificateManager) Status(ctx context.Context, tenantID, environment string) (*CertificateStatus, error) {
	p, err := m.repo.GetActive(ctx, tenantID, environment)
	if err != nil {
		return nil, err
	}
	return &CertificateStatus{Profile: p, Expiry: p.EvaluateExpiry(m.now())}, nil
}

// CheckExpirations evalúa todos los certificados activos, publica los días restantes y
// registra en el log los que requieren aviso. Devuelve los que requieren aviso.
func (m *CertificateManager) CheckExpirations(ctx context.Context) ([]CertificateStatus, error) {
	profiles, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listar certificados activos: %w", err)
	}
	now := m.now()
	var out []CertificateStatus
	for _, p := range profiles {
		exp := p.EvaluateExpiry(now)
		m.metrics.SetCertificateDaysToExpiry(p.TenantID, p.Environment, exp.DaysUntilExpiry)
		if !exp.ShouldNotify {
			continue
		}
		out = append(out, CertificateStatus{Profile: p, Expiry: exp})

		var ev *zerolog.Event
		switch exp.Level {
		case entity.ExpiryExpired, entity.ExpiryCritical:
			ev = m.log.Error()
		case entity.ExpiryUrgent, entity.ExpiryWarning:
			ev = m.log.Warn()
		default:
			ev = m.log.Debug()
		}
		ev.Str("tenant_id", p.TenantID).
			Str("environment", p.Environment).
			Str("serial_number", p.SerialNumber).
			Str("level", exp.Level).
			Int("days_until_expiry", exp.DaysUntilExpiry).
			Msg("vencimiento de certificado")
	}
	return out, nil
}
