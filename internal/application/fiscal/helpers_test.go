package fiscal_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// ── Reloj ─────────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ── Ítems ─────────────────────────────────────────────────────────────────────

func buildTestTransaction(orderID string) entity.TransactionRequest {
	return entity.TransactionRequest{
		TransactionID:   orderID,
		Action:          fiscal.ActionRegister,
		ServiceType:     fiscal.ServiceTakeout,
		TransactionType: fiscal.TransactionSale,
		PrintMode:       fiscal.PrintModePhysical,
		PrintFormat:     fiscal.PrintFormatTicket58,
		PaymentMode:     fiscal.PaymentCash,
		Subtotal:        10000,
		TaxA:            500,
		TaxB:            998,
		Total:           11498,
		Timestamp:       "2026-03-10T10:00:00-04:00",
		Items:           []entity.LineItem{{Description: "Burrito", Quantity: 1000, UnitPrice: 10000, LineTotal: 10000}},
		Signature:       "c2ln",
	}
}

func buildTestEnvelope(t *testing.T, req any, endpoint string) *entity.Envelope {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &entity.Envelope{
		Endpoint: endpoint,
		Path:     "/" + endpoint,
		Headers:  map[string]string{"X-Device-Id": "POS-01"},
		Body:     body,
	}
}

func buildTestItem(t *testing.T, tenantID, orderID string) appfiscal.NewQueueItem {
	t.Helper()
	return appfiscal.NewQueueItem{
		TenantID: tenantID,
		OrderID:  orderID,
		Kind:     entity.QueueKindTransaction,
		Endpoint: entity.EndpointTransactions,
		Action:   fiscal.ActionRegister,
		Envelope: buildTestEnvelope(t, buildTestTransaction(orderID), entity.EndpointTransactions),
	}
}

// ── Registro fake ─────────────────────────────────────────────────────────────

type fakeRegistry struct {
	mu        sync.Mutex
	sends     int
	sendFn    func(ctx context.Context, env *entity.Envelope) (*appfiscal.RegistryResult, error)
	enrollFn  func(req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error)
	annulFn   func(req appfiscal.AnnulmentRequest) (*appfiscal.AnnulmentResult, error)
	lastSent  *entity.Envelope
	enrolls   int
	annulRecv []appfiscal.AnnulmentRequest
}

var _ appfiscal.Registry = (*fakeRegistry)(nil)

func (f *fakeRegistry) Send(ctx context.Context, env *entity.Envelope) (*appfiscal.RegistryResult, error) {
	f.mu.Lock()
	f.sends++
	f.lastSent = env
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return &appfiscal.RegistryResult{ResultCode: fiscal.ResultCodeSuccess, TransactionID: "REG-1", QRData: "https://registro.test/qr/REG-1"}, nil
	}
	return fn(ctx, env)
}

func (f *fakeRegistry) Enroll(_ context.Context, req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
	f.mu.Lock()
	f.enrolls++
	fn := f.enrollFn
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeRegistry) Annul(_ context.Context, req appfiscal.AnnulmentRequest) (*appfiscal.AnnulmentResult, error) {
	f.mu.Lock()
	f.annulRecv = append(f.annulRecv, req)
	fn := f.annulFn
	f.mu.Unlock()
	if fn == nil {
		return &appfiscal.AnnulmentResult{Acknowledged: true}, nil
	}
	return fn(req)
}

func (f *fakeRegistry) Sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

// ── CA de pruebas ─────────────────────────────────────────────────────────────

type testCA struct {
	key    *ecdsa.PrivateKey
	cert   *x509.Certificate
	serial int64
	mu     sync.Mutex
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Registro Fiscal Test CA"},
		NotBefore:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCA{key: key, cert: cert, serial: 100}
}

// issue firma el CSR con vigencia [notBefore, notAfter]. Si pub no es nil se usa en lugar
// de la llave del CSR.
func (ca *testCA) issue(csrPEM []byte, notBefore, notAfter time.Time, pub *ecdsa.PublicKey) (*appfiscal.EnrollmentResult, error) {
	block, _ := pem.Decode(csrPEM)
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, err
	}
	ca.mu.Lock()
	ca.serial++
	serial := ca.serial
	ca.mu.Unlock()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      csr.Subject,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	var subjectKey any = csr.PublicKey
	if pub != nil {
		subjectKey = pub
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, subjectKey, ca.key)
	if err != nil {
		return nil, err
	}
	return &appfiscal.EnrollmentResult{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		SerialNumber:   big.NewInt(serial).Text(16),
		ValidFrom:      notBefore,
		ValidUntil:     notAfter,
	}, nil
}
