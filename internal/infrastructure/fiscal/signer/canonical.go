package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize serializa el payload en JSON canónico: claves ordenadas, sin espacios,
// números preservados tal cual y sin escape HTML. Dos estructuras iguales producen los
// mismos bytes sin importar el orden de sus campos.
func Canonicalize(payload any) ([]byte, error) {
	raw, ok := payload.([]byte)
	if !ok {
		if rm, isRaw := payload.(json.RawMessage); isRaw {
			raw = rm
		} else {
			var err error
			raw, err = json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("canonicalizar: %w", err)
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalizar: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json ordena las claves de los map al codificar.
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonicalizar: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
