// Conversión entre firmas ECDSA en DER (ASN.1) y el formato fijo de 64 bytes del protocolo
// (R ‖ S, big-endian, sin signo, rellenados a 32 bytes cada uno).

package signer

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/jhoicas/fiscal-adapter/internal/domain"
)

const (
	// FixedSignatureSize tamaño de la firma P-256 en formato fijo.
	FixedSignatureSize = 64
	scalarSize         = 32
)

// DERToFixed convierte SEQUENCE{INTEGER r, INTEGER s} a r‖s de 64 bytes.
func DERToFixed(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: falta SEQUENCE", domain.ErrMalformedSignature)
	}
	var r, s cryptobyte.String
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return nil, fmt.Errorf("%w: se esperaban dos INTEGER", domain.ErrMalformedSignature)
	}

	out := make([]byte, FixedSignatureSize)
	if err := putScalar(out[:scalarSize], r); err != nil {
		return nil, fmt.Errorf("%w: r: %v", domain.ErrMalformedSignature, err)
	}
	if err := putScalar(out[scalarSize:], s); err != nil {
		return nil, fmt.Errorf("%w: s: %v", domain.ErrMalformedSignature, err)
	}
	return out, nil
}

// putScalar quita el byte de signo del INTEGER y lo rellena a la izquierda hasta 32 bytes.
func putScalar(dst, v []byte) error {
	switch {
	case len(v) == 0:
		return fmt.Errorf("INTEGER vacío")
	case len(v) > scalarSize+1:
		return fmt.Errorf("INTEGER de %d bytes", len(v))
	case v[0]&0x80 != 0:
		return fmt.Errorf("INTEGER negativo")
	}
	for len(v) > 0 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > scalarSize {
		return fmt.Errorf("INTEGER de %d bytes significativos", len(v))
	}
	copy(dst[scalarSize-len(v):], v)
	return nil
}

// FixedToDER convierte r‖s de 64 bytes a DER con codificación mínima de cada INTEGER.
func FixedToDER(fixed []byte) ([]byte, error) {
	if len(fixed) != FixedSignatureSize {
		return nil, fmt.Errorf("%w: se esperaban %d bytes, llegaron %d",
			domain.ErrMalformedSignature, FixedSignatureSize, len(fixed))
	}
	r := minimalInteger(fixed[:scalarSize])
	s := minimalInteger(fixed[scalarSize:])

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) { b.AddBytes(r) })
		b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) { b.AddBytes(s) })
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSignature, err)
	}
	return der, nil
}

// minimalInteger quita ceros a la izquierda (dejando al menos un byte) y antepone 0x00
// cuando el bit alto queda encendido, porque los INTEGER de DER tienen signo.
func minimalInteger(v []byte) []byte {
	for len(v) > 1 && v[0] == 0 {
		v = v[1:]
	}
	if v[0]&0x80 != 0 {
		return append([]byte{0x00}, v...)
	}
	return append([]byte(nil), v...)
}
