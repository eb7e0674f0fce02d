package entity

import "encoding/json"

// Envelope request listo para enviar al registro: es lo que la cola persiste como payload.
type Envelope struct {
	Endpoint string            `json:"endpoint"`
	Path     string            `json:"path"`
	Headers  map[string]string `json:"headers"`
	Body     json.RawMessage   `json:"body"`
}
