package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

const (
	pathEnroll = "/certificates/enroll"
	pathAnnul  = "/certificates/annul"

	maxResponseBytes = 1 << 20
)

// ── Estructuras JSON ──────────────────────────────────────────────────────────

type registryResponse struct {
	ResultCode    string `json:"result_code"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	QRData        string `json:"qr_data"`
}

type enrollRequest struct {
	TenantID    string `json:"tenant_id"`
	Environment string `json:"environment"`
	DeviceID    string `json:"device_id"`
	CSR         string `json:"csr"`
}

type enrollResponse struct {
	ResultCode   string    `json:"result_code"`
	Message      string    `json:"message"`
	Certificate  string    `json:"certificate"`
	SerialNumber string    `json:"serial_number"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidUntil   time.Time `json:"valid_until"`
}

type annulRequest struct {
	TenantID     string `json:"tenant_id"`
	Environment  string `json:"environment"`
	SerialNumber string `json:"serial_number"`
	Fingerprint  string `json:"fingerprint"`
	Reason       string `json:"reason,omitempty"`
}

// ── Cliente HTTP ──────────────────────────────────────────────────────────────

// HTTPRegistry implementa appfiscal.Registry con JSON sobre HTTPS.
// El timeout por envío lo fija el contexto del dispatcher; el del http.Client es el tope global.
type HTTPRegistry struct {
	baseURL    string
	headers    *HeaderBuilder
	httpClient *http.Client
}

var _ appfiscal.Registry = (*HTTPRegistry)(nil)

// NewHTTPRegistry construye el cliente. baseURL sin "/" final (ej: https://registro.example/api/v1).
func NewHTTPRegistry(baseURL string, headers *HeaderBuilder, timeout time.Duration) *HTTPRegistry {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRegistry{
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send entrega el sobre. Un error devuelto es siempre falla de entrega (transporte, timeout,
// 5xx); un rechazo del registro llega como RegistryResult con su código. Solo un 2xx con
// código 0000 es aceptación.
func (c *HTTPRegistry) Send(ctx context.Context, env *entity.Envelope) (*appfiscal.RegistryResult, error) {
	if env == nil {
		return nil, domain.NewValidationError("sobre nulo")
	}
	status, raw, err := c.post(ctx, env.Path, env.Headers, env.Body)
	if err != nil {
		return nil, err
	}
	var resp registryResponse
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil || resp.ResultCode == "" {
		if status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("registro fiscal: HTTP %d", status)
		}
		return nil, fmt.Errorf("registro fiscal: respuesta ilegible (HTTP %d)", status)
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("registro fiscal: HTTP %d [%s] %s", status, resp.ResultCode, resp.Message)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		// fuera de 2xx nunca es aceptación, diga lo que diga el cuerpo
		code := resp.ResultCode
		if code == fiscal.ResultCodeSuccess {
			code = fmt.Sprintf("HTTP_%d", status)
		}
		return &appfiscal.RegistryResult{ResultCode: code, Message: resp.Message}, nil
	}
	return &appfiscal.RegistryResult{
		ResultCode:    resp.ResultCode,
		Message:       resp.Message,
		TransactionID: resp.TransactionID,
		QRData:        resp.QRData,
	}, nil
}

// Enroll envía el CSR y devuelve el certificado emitido.
func (c *HTTPRegistry) Enroll(ctx context.Context, req appfiscal.EnrollmentRequest) (*appfiscal.EnrollmentResult, error) {
	body, err := json.Marshal(enrollRequest{
		TenantID:    req.TenantID,
		Environment: req.Environment,
		DeviceID:    req.DeviceID,
		CSR:         string(req.CSRPEM),
	})
	if err != nil {
		return nil, fmt.Errorf("enrolamiento: %w", err)
	}
	status, raw, err := c.post(ctx, pathEnroll, c.identityHeaders(req.DeviceID), body)
	if err != nil {
		return nil, fmt.Errorf("enrolamiento: %w", err)
	}
	var resp enrollResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("enrolamiento: respuesta ilegible (HTTP %d): %w", status, err)
	}
	if status >= http.StatusBadRequest || resp.ResultCode != fiscal.ResultCodeSuccess {
		return nil, fmt.Errorf("enrolamiento: %w", &domain.DeliveryRejectedError{Code: resp.ResultCode, Message: resp.Message})
	}
	if resp.Certificate == "" {
		return nil, fmt.Errorf("enrolamiento: %w: el registro no devolvió certificado", domain.ErrInvalidCertificate)
	}
	return &appfiscal.EnrollmentResult{
		CertificatePEM: []byte(resp.Certificate),
		SerialNumber:   resp.SerialNumber,
		ValidFrom:      resp.ValidFrom,
		ValidUntil:     resp.ValidUntil,
	}, nil
}

// Annul solicita la anulación. 404/501 significan que el registro no ofrece anulación.
func (c *HTTPRegistry) Annul(ctx context.Context, req appfiscal.AnnulmentRequest) (*appfiscal.AnnulmentResult, error) {
	body, err := json.Marshal(annulRequest{
		TenantID:     req.TenantID,
		Environment:  req.Environment,
		SerialNumber: req.SerialNumber,
		Fingerprint:  req.Fingerprint,
		Reason:       req.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("anulación: %w", err)
	}
	status, raw, err := c.post(ctx, pathAnnul, c.identityHeaders(""), body)
	if err != nil {
		return nil, fmt.Errorf("anulación: %w", err)
	}
	if status == http.StatusNotFound || status == http.StatusNotImplemented {
		return &appfiscal.AnnulmentResult{Unsupported: true, Message: fmt.Sprintf("HTTP %d", status)}, nil
	}
	var resp registryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("anulación: respuesta ilegible (HTTP %d): %w", status, err)
	}
	return &appfiscal.AnnulmentResult{
		Acknowledged: status < http.StatusBadRequest && resp.ResultCode == fiscal.ResultCodeSuccess,
		Message:      resp.Message,
	}, nil
}

func (c *HTTPRegistry) identityHeaders(deviceID string) map[string]string {
	h := c.headers.baseHeaders(deviceID, uuid.NewString())
	h[HeaderContentType] = contentTypeJSON
	return h
}

// post hace el POST y devuelve status y cuerpo. Vencimiento del contexto → ErrDeliveryTimeout.
func (c *HTTPRegistry) post(ctx context.Context, path string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("crear request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, fmt.Errorf("%w: %v", domain.ErrDeliveryTimeout, err)
		}
		return 0, nil, fmt.Errorf("registro fiscal: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, fmt.Errorf("%w: leer respuesta: %v", domain.ErrDeliveryTimeout, err)
		}
		return 0, nil, fmt.Errorf("leer respuesta: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
