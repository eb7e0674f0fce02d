package fiscal

import (
	"fmt"
	"regexp"
	"time"

	// Base de zonas horarias embebida: los contenedores mínimos no traen /usr/share/zoneinfo.
	_ "time/tzdata"
)

// Localizer convierte instantes UTC a la hora civil de la jurisdicción.
type Localizer struct {
	loc *time.Location
}

// NewLocalizer carga la zona IANA (ej: "America/New_York"). Nunca se usa un offset fijo:
// el offset correcto depende de la fecha (horario de verano).
func NewLocalizer(zone string) (*Localizer, error) {
	if zone == "" {
		return nil, fmt.Errorf("fiscal: zona horaria vacía")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("fiscal: cargar zona horaria %q: %w", zone, err)
	}
	return &Localizer{loc: loc}, nil
}

// Location devuelve la zona cargada.
func (l *Localizer) Location() *time.Location { return l.loc }

// LocalizeTimestamp representa el instante en hora local: YYYY-MM-DDTHH:mm:ss±HH:MM.
func (l *Localizer) LocalizeTimestamp(t time.Time) string {
	return t.In(l.loc).Format(TimestampLayout)
}

// LocalDate fecha civil local (YYYY-MM-DD) del instante.
func (l *Localizer) LocalDate(t time.Time) string {
	return t.In(l.loc).Format(DateLayout)
}

var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[+-]\d{2}:\d{2}$`)

// ValidateTimestamp verifica el formato exacto del protocolo (offset explícito, nunca "Z").
func ValidateTimestamp(s string) bool {
	if !timestampRe.MatchString(s) {
		return false
	}
	_, err := time.Parse(TimestampLayout, s)
	return err == nil
}

// ValidateDate verifica una fecha de cierre YYYY-MM-DD.
func ValidateDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil && len(s) == len(DateLayout)
}
