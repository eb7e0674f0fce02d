// Carga de credenciales ECDSA desde .p12 (PKCS#12) o par PEM, y huella del certificado.

package signer

import (
	"crypto/ecdsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
)

// Credential llave de firma y certificado hoja.
type Credential struct {
	Key  *ecdsa.PrivateKey
	Leaf *x509.Certificate
}

// LoadFromP12 carga certificado y llave privada ECDSA desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decodificar p12: %w", err)
	}
	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave del p12 no es ECDSA (%T)", domain.ErrInvalidCertificate, priv)
	}
	return &Credential{Key: key, Leaf: cert}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (separados o combinados).
func LoadFromPEM(certPath, keyPath string) (*Credential, error) {
	if certPath == "" {
		return nil, fmt.Errorf("%w: ruta de certificado vacía", domain.ErrInvalidCertificate)
	}
	if keyPath == "" {
		keyPath = certPath
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("cargar PEM: %w", err)
	}
	key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave no es ECDSA (%T)", domain.ErrInvalidCertificate, pair.PrivateKey)
	}
	leaf := pair.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parsear certificado: %w", err)
		}
	}
	return &Credential{Key: key, Leaf: leaf}, nil
}

// CertificateFingerprint SHA-1 en hex minúscula del cuerpo DER de un certificado PEM.
func CertificateFingerprint(pemCertificate []byte) (string, error) {
	block, _ := pem.Decode(pemCertificate)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("%w: faltan los delimitadores PEM", domain.ErrInvalidCertificate)
	}
	sum := sha1.Sum(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeCertificatePEM DER → PEM.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// EncodePrivateKeyPEM serializa la llave en PKCS#8 PEM.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("serializar llave: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM PKCS#8 (o SEC1) PEM → llave ECDSA.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, domain.ErrNoKeyMaterial
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if ec, ok := k.(*ecdsa.PrivateKey); ok {
			return ec, nil
		}
		return nil, fmt.Errorf("%w: llave PKCS#8 no ECDSA", domain.ErrNoKeyMaterial)
	}
	ec, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoKeyMaterial, err)
	}
	return ec, nil
}
