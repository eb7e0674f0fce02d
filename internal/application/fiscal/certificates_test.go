package fiscal_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/internal/domain/repository"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/keyvault"
	"github.com/jhoicas/fiscal-adapter/internal/infrastructure/memory"
)

type certFixture struct {
	mgr      *appfiscal.CertificateManager
	store    *memory.CertificateStore
	registry *fakeRegistry
	ca       *testCA
	clock    *fakeClock
}

func buildTestCertificateManager(t *testing.T, cfg appfiscal.CertificateConfig) *certFixture {
	t.Helper()
	vault, err := keyvault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	ca := newTestCA(t)
	clock := newClock()
	reg := &fakeRegistry{}
	reg.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		now := clock.Now()
		return ca.issue(req.CSRPEM, now.Add(-time.Hour), now.AddDate(2, 0, 0), nil)
	}
	store := memory.NewCertificateStore()
	mgr := appfiscal.NewCertificateManager(store, store, reg, vault, cfg, nil, zerolog.Nop()).WithClock(clock.Now)
	return &certFixture{mgr: mgr, store: store, registry: reg, ca: ca, clock: clock}
}

func buildTestEnrollment() appfiscal.EnrollmentConfig {
	return appfiscal.EnrollmentConfig{
		DeviceID:  "POS-01",
		LegalName: "Tacos El Güero SA",
		TaxID:     "TGU-010203-AB1",
		Country:   "us",
	}
}

func TestEnroll_Exito(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()

	var csrSeen []byte
	issue := f.registry.enrollFn
	f.registry.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		csrSeen = req.CSRPEM
		return issue(req)
	}

	p, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Nil(t, p.DeletedAt)
	assert.Len(t, p.Fingerprint, 40)
	assert.Equal(t, "POS-01", p.DeviceID)
	assert.NotEmpty(t, p.SerialNumber)
	assert.NotContains(t, string(p.EncryptedPrivateKey), "PRIVATE KEY", "la llave se guarda cifrada")

	block, _ := pem.Decode(csrSeen)
	require.NotNil(t, block)
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "POS-01", csr.Subject.CommonName)
	assert.Equal(t, []string{"Tacos El Güero SA"}, csr.Subject.Organization)
	assert.Equal(t, "TGU-010203-AB1", csr.Subject.SerialNumber)
	assert.Equal(t, []string{"production"}, csr.Subject.OrganizationalUnit)
	assert.Equal(t, []string{"US"}, csr.Subject.Country)

	key, profile, err := f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	require.NoError(t, err)
	assert.Equal(t, p.ID, profile.ID)
	certPEM, err := f.mgr.CertificatePEM(profile)
	require.NoError(t, err)
	cb, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(cb.Bytes)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(cert.PublicKey), "la llave descifrada corresponde al certificado")
}

func TestEnroll_ActivoExistente(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()

	_, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	_, err = f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	assert.ErrorIs(t, err, domain.ErrActiveCertificateExists)
	assert.Equal(t, 1, f.registry.enrolls, "no se pide un segundo certificado")

	_, err = f.mgr.Enroll(ctx, "t1", entity.EnvironmentPreproduction, buildTestEnrollment())
	assert.NoError(t, err, "otro ambiente es independiente")
}

func TestEnroll_Concurrente_UnSoloActivo(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, domain.ErrActiveCertificateExists):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), rejected.Load())
	assert.Equal(t, 1, f.registry.enrolls, "las emisiones del mismo par se serializan antes del registro")

	active, err := f.store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// trackingCertTx marca cuándo hay una transacción de certificados abierta.
type trackingCertTx struct {
	store *memory.CertificateStore
	open  atomic.Int32
}

func (tr *trackingCertTx) RunCertificates(ctx context.Context, tenantID, environment string, fn func(repository.CertificateRepository) error) error {
	tr.open.Add(1)
	defer tr.open.Add(-1)
	return tr.store.RunCertificates(ctx, tenantID, environment, fn)
}

func TestEnroll_RegistroFueraDeTransaccion(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	vault, err := keyvault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	tracker := &trackingCertTx{store: f.store}
	mgr := appfiscal.NewCertificateManager(f.store, tracker, f.registry, vault, appfiscal.CertificateConfig{}, nil, zerolog.Nop()).
		WithClock(f.clock.Now)

	issue := f.registry.enrollFn
	var openDuringCall int32 = -1
	f.registry.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		openDuringCall = tracker.open.Load()
		return issue(req)
	}

	p, err := mgr.Enroll(context.Background(), "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, int32(0), openDuringCall, "ninguna transacción abierta durante la llamada al registro")
}

func TestEnroll_OtraReplicaGana_AnulaElEmitido(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()

	issue := f.registry.enrollFn
	var issuedSerial string
	f.registry.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		// otra réplica guarda su certificado mientras este se emite
		now := f.clock.Now()
		require.NoError(t, f.store.Create(ctx, &entity.CertificateProfile{
			ID: uuid.NewString(), TenantID: "t1", Environment: entity.EnvironmentProduction,
			SerialNumber: "ff", IsActive: true, ValidFrom: now, ValidUntil: now.AddDate(1, 0, 0),
			CreatedAt: now, UpdatedAt: now,
		}))
		res, err := issue(req)
		if err == nil {
			issuedSerial = res.SerialNumber
		}
		return res, err
	}

	_, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	assert.ErrorIs(t, err, domain.ErrActiveCertificateExists)

	require.Len(t, f.registry.annulRecv, 1, "el certificado huérfano se anula en el registro")
	assert.Equal(t, issuedSerial, f.registry.annulRecv[0].SerialNumber)
	active, err := f.store.GetActive(ctx, "t1", entity.EnvironmentProduction)
	require.NoError(t, err)
	assert.Equal(t, "ff", active.SerialNumber, "se conserva el de la otra réplica")
}

func TestEnroll_LlavePublicaDistinta(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	f.registry.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		now := f.clock.Now()
		return f.ca.issue(req.CSRPEM, now, now.AddDate(1, 0, 0), &other.PublicKey)
	}

	_, err = f.mgr.Enroll(context.Background(), "t1", entity.EnvironmentProduction, buildTestEnrollment())
	assert.ErrorIs(t, err, domain.ErrInvalidCertificate)
	_, err = f.store.GetActive(context.Background(), "t1", entity.EnvironmentProduction)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nada se persiste")
}

func TestEnroll_DatosInvalidos(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	cfg := buildTestEnrollment()
	cfg.Country = "USA"
	_, err := f.mgr.Enroll(context.Background(), "t1", "staging", cfg)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Contains(t, err.Error(), "staging")
	assert.Contains(t, err.Error(), "country")
}

func TestAnnul_Confirmada(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()
	p, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)

	annulled, err := f.mgr.Annul(ctx, p.ID, "llave comprometida")
	require.NoError(t, err)
	assert.False(t, annulled.IsActive)
	require.NotNil(t, annulled.DeletedAt)
	require.Len(t, f.registry.annulRecv, 1)
	assert.Equal(t, p.SerialNumber, f.registry.annulRecv[0].SerialNumber)
	assert.Equal(t, "llave comprometida", f.registry.annulRecv[0].Reason)

	stored, err := f.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.EncryptedPrivateKey)
	assert.Empty(t, stored.EncryptedCertificate)
	assert.Equal(t, p.SerialNumber, stored.SerialNumber, "la metadata se conserva")

	_, _, err = f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)

	_, err = f.mgr.Annul(ctx, p.ID, "otra vez")
	assert.ErrorIs(t, err, domain.ErrConflict)

	renewed, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	_, err = f.store.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "el perfil anulado se purga al emitir uno nuevo")
	assert.NotEqual(t, p.ID, renewed.ID)
}

func TestAnnul_NoSoportada(t *testing.T) {
	ctx := context.Background()
	unsupported := func(appfiscal.AnnulmentRequest) (*appfiscal.AnnulmentResult, error) {
		return &appfiscal.AnnulmentResult{Unsupported: true}, nil
	}

	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	f.registry.annulFn = unsupported
	p, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentDevelopment, buildTestEnrollment())
	require.NoError(t, err)
	_, err = f.mgr.Annul(ctx, p.ID, "cambio de equipo")
	assert.ErrorIs(t, err, domain.ErrAnnulmentNotAcknowledged)
	stored, _ := f.store.GetByID(ctx, p.ID)
	assert.True(t, stored.IsActive, "sin confirmación el perfil sigue activo")

	f = buildTestCertificateManager(t, appfiscal.CertificateConfig{AssumeAnnulmentWhenUnsupported: true})
	f.registry.annulFn = unsupported
	p, err = f.mgr.Enroll(ctx, "t1", entity.EnvironmentDevelopment, buildTestEnrollment())
	require.NoError(t, err)
	annulled, err := f.mgr.Annul(ctx, p.ID, "cambio de equipo")
	require.NoError(t, err)
	assert.False(t, annulled.IsActive)
}

func TestAnnul_Rechazada(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{AssumeAnnulmentWhenUnsupported: true})
	f.registry.annulFn = func(appfiscal.AnnulmentRequest) (*appfiscal.AnnulmentResult, error) {
		return &appfiscal.AnnulmentResult{Message: "serial desconocido"}, nil
	}
	ctx := context.Background()
	p, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)

	_, err = f.mgr.Annul(ctx, p.ID, "x")
	require.ErrorIs(t, err, domain.ErrAnnulmentNotAcknowledged)
	assert.Contains(t, err.Error(), "serial desconocido")
}

func TestSigningKey_SinCertificadoOVencido(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()

	_, _, err := f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)

	_, err = f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	f.clock.Advance(3 * 365 * 24 * time.Hour)
	_, _, err = f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
}

func TestSigningKey_AunNoVigente(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()
	f.registry.enrollFn = func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
		now := f.clock.Now()
		return f.ca.issue(req.CSRPEM, now.Add(24*time.Hour), now.AddDate(1, 0, 0), nil)
	}
	p, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)
	require.True(t, p.ValidFrom.After(f.clock.Now()))

	_, _, err = f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	assert.ErrorIs(t, err, domain.ErrNoActiveCertificate)
	assert.ErrorIs(t, err, domain.ErrCertificateNotYetValid)

	f.clock.Advance(25 * time.Hour)
	key, got, err := f.mgr.SigningKey(ctx, "t1", entity.EnvironmentProduction)
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.Equal(t, p.ID, got.ID)
}

func TestCheckExpirations_Niveles(t *testing.T) {
	f := buildTestCertificateManager(t, appfiscal.CertificateConfig{})
	ctx := context.Background()
	_, err := f.mgr.Enroll(ctx, "t1", entity.EnvironmentProduction, buildTestEnrollment())
	require.NoError(t, err)

	warnings, err := f.mgr.CheckExpirations(ctx)
	require.NoError(t, err)
	require.Len(t, warnings, 1, "dos años de vigencia: nivel info")
	assert.Equal(t, entity.ExpiryInfo, warnings[0].Expiry.Level)

	f.clock.Advance(2*365*24*time.Hour - 20*24*time.Hour)
	warnings, err = f.mgr.CheckExpirations(ctx)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, entity.ExpiryUrgent, warnings[0].Expiry.Level)

	status, err := f.mgr.Status(ctx, "t1", entity.EnvironmentProduction)
	require.NoError(t, err)
	assert.Equal(t, entity.ExpiryUrgent, status.Expiry.Level)
	assert.True(t, status.Expiry.ShouldNotify)
}
