// Package keyvault cifra en reposo la llave privada y el certificado de cada perfil.
// AES-256-GCM con llave derivada por HKDF-SHA256 del secreto configurado.
// Formato: nonce (12 bytes) ‖ ciphertext+tag.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	appfiscal "github.com/jhoicas/fiscal-adapter/internal/application/fiscal"
)

var _ appfiscal.KeyVault = (*Vault)(nil)

// MinSecretLength longitud mínima del secreto de cifrado.
const MinSecretLength = 32

const hkdfInfo = "fiscal-adapter/certificate-key-material/v1"

// ErrDecrypt el ciphertext no corresponde al secreto o al dueño (aad).
var ErrDecrypt = errors.New("no se pudo descifrar el material de llave")

// Vault cifrado autenticado del material de llave.
type Vault struct {
	aead cipher.AEAD
}

// New deriva la llave AES-256 desde secret (CERT_ENCRYPTION_KEY).
func New(secret string) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("keyvault: el secreto debe tener al menos %d caracteres", MinSecretLength)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("keyvault: derivar llave: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keyvault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyvault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt cifra plaintext atado a aad.
func (v *Vault) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keyvault: nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt descifra; ErrDecrypt si el secreto o aad no coinciden o el dato está corrupto.
func (v *Vault) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	ns := v.aead.NonceSize()
	if len(ciphertext) < ns+v.aead.Overhead() {
		return nil, ErrDecrypt
	}
	out, err := v.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}
