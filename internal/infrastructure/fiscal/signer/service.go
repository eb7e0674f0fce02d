// Servicio de firma ECDSA P-256 (ES256) para requests del registro fiscal.
// La firma se calcula sobre el JSON canónico y se entrega en formato fijo de 64 bytes, Base64.

package signer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
	"github.com/jhoicas/fiscal-adapter/pkg/fiscal"
)

// Service firma y verifica payloads. No tiene modo simulado: sin llave, falla.
type Service struct {
	random io.Reader
}

// NewService crea el servicio con crypto/rand como fuente de aleatoriedad.
func NewService() *Service {
	return &Service{random: rand.Reader}
}

// Sign canonicaliza el payload, calcula SHA-256 y firma con la llave. Devuelve Base64 de r‖s.
func (s *Service) Sign(payload any, algorithm string, key *ecdsa.PrivateKey) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return s.SignCanonical(canonical, algorithm, key)
}

// SignCanonical firma bytes que ya están en forma canónica (ej: el cuerpo del envelope).
func (s *Service) SignCanonical(canonical []byte, algorithm string, key *ecdsa.PrivateKey) (string, error) {
	if key == nil || key.D == nil {
		return "", domain.ErrNoKeyMaterial
	}
	if algorithm != fiscal.SignatureAlgorithmES256 {
		return "", fmt.Errorf("firma: algoritmo no soportado %q", algorithm)
	}
	if key.Curve != elliptic.P256() {
		return "", fmt.Errorf("firma: la llave debe ser P-256")
	}
	digest := sha256.Sum256(canonical)
	der, err := ecdsa.SignASN1(s.random, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("firma: %w", err)
	}
	fixed, err := DERToFixed(der)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(fixed), nil
}

// Verify comprueba una firma Base64 de formato fijo sobre el payload. Nunca entra en pánico:
// cualquier entrada mal formada devuelve false.
func (s *Service) Verify(payload any, signature string, pub *ecdsa.PublicKey) bool {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}
	return VerifyCanonical(canonical, signature, pub)
}

// VerifyCanonical igual que Verify sobre bytes canónicos.
func VerifyCanonical(canonical []byte, signature string, pub *ecdsa.PublicKey) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if pub == nil || pub.Curve == nil || pub.X == nil || pub.Y == nil {
		return false
	}
	fixed, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(fixed) != FixedSignatureSize {
		return false
	}
	der, err := FixedToDER(fixed)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(canonical)
	return ecdsa.VerifyASN1(pub, digest[:], der)
}
