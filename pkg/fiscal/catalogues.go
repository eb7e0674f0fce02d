// Package fiscal contiene los catálogos y las funciones de codificación exigidas por el
// protocolo del registro fiscal: montos en unidades menores, texto ASCII, fecha local con
// offset explícito y versiones semánticas.
package fiscal

// =============================================================================
// Acciones del protocolo
// =============================================================================

// Action acción registrable ante el registro fiscal.
type Action string

const (
	ActionRegister Action = "register"
	ActionCancel   Action = "cancel"
	ActionModify   Action = "modify"
	ActionClosing  Action = "closing"
)

// Valid informa si la acción pertenece al catálogo.
func (a Action) Valid() bool {
	switch a {
	case ActionRegister, ActionCancel, ActionModify, ActionClosing:
		return true
	}
	return false
}

// =============================================================================
// Tipo de transacción
// =============================================================================

// TransactionType venta o devolución.
type TransactionType string

const (
	TransactionSale   TransactionType = "sale"
	TransactionRefund TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	return t == TransactionSale || t == TransactionRefund
}

// =============================================================================
// Tipo de servicio
// =============================================================================

// ServiceType modalidad de servicio del restaurante.
type ServiceType string

const (
	ServiceDineIn   ServiceType = "dine_in"
	ServiceTakeout  ServiceType = "takeout"
	ServiceDelivery ServiceType = "delivery"
	ServiceCatering ServiceType = "catering"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceDineIn, ServiceTakeout, ServiceDelivery, ServiceCatering:
		return true
	}
	return false
}

// ServiceTypeFallback se usa cuando la orden trae un tipo de servicio desconocido.
const ServiceTypeFallback = ServiceDineIn

// serviceTypes traduce los valores internos del sistema de órdenes al catálogo del registro.
var serviceTypes = map[string]ServiceType{
	"dine_in":   ServiceDineIn,
	"dinein":    ServiceDineIn,
	"table":     ServiceDineIn,
	"takeout":   ServiceTakeout,
	"take_away": ServiceTakeout,
	"pickup":    ServiceTakeout,
	"delivery":  ServiceDelivery,
	"catering":  ServiceCatering,
	"event":     ServiceCatering,
}

// LookupServiceType devuelve el tipo de servicio y false si hubo que usar el valor por defecto.
func LookupServiceType(internal string) (ServiceType, bool) {
	if st, ok := serviceTypes[internal]; ok {
		return st, true
	}
	return ServiceTypeFallback, false
}

// =============================================================================
// Medio de pago
// =============================================================================

// PaymentMode medio de pago informado al registro.
type PaymentMode string

const (
	PaymentCash     PaymentMode = "cash"
	PaymentCard     PaymentMode = "card"
	PaymentTransfer PaymentMode = "transfer"
	PaymentWallet   PaymentMode = "wallet"
	PaymentMixed    PaymentMode = "mixed"
	PaymentOther    PaymentMode = "other"
)

func (p PaymentMode) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentWallet, PaymentMixed, PaymentOther:
		return true
	}
	return false
}

// PaymentModeFallback valor seguro para medios de pago no catalogados.
const PaymentModeFallback = PaymentOther

var paymentModes = map[string]PaymentMode{
	"cash":          PaymentCash,
	"efectivo":      PaymentCash,
	"card":          PaymentCard,
	"credit_card":   PaymentCard,
	"debit_card":    PaymentCard,
	"transfer":      PaymentTransfer,
	"bank_transfer": PaymentTransfer,
	"wallet":        PaymentWallet,
	"apple_pay":     PaymentWallet,
	"google_pay":    PaymentWallet,
	"mixed":         PaymentMixed,
	"split":         PaymentMixed,
}

// LookupPaymentMode devuelve el medio de pago y false si hubo que usar el valor por defecto.
func LookupPaymentMode(internal string) (PaymentMode, bool) {
	if pm, ok := paymentModes[internal]; ok {
		return pm, true
	}
	return PaymentModeFallback, false
}

// =============================================================================
// Impresión
// =============================================================================

// PrintMode cómo se entrega el comprobante al cliente.
type PrintMode string

const (
	PrintModePhysical   PrintMode = "physical"
	PrintModeElectronic PrintMode = "electronic"
	PrintModeNone       PrintMode = "none"
)

func (p PrintMode) Valid() bool {
	return p == PrintModePhysical || p == PrintModeElectronic || p == PrintModeNone
}

// PrintFormat formato del comprobante impreso.
type PrintFormat string

const (
	PrintFormatTicket80 PrintFormat = "ticket_80mm"
	PrintFormatTicket58 PrintFormat = "ticket_58mm"
	PrintFormatLetter   PrintFormat = "letter"
)

func (p PrintFormat) Valid() bool {
	return p == PrintFormatTicket80 || p == PrintFormatTicket58 || p == PrintFormatLetter
}

// =============================================================================
// Canales de venta
// =============================================================================

// Canales no digitales: lista cerrada. Cualquier otro canal se considera comercio electrónico.
var nonDigitalChannels = map[string]bool{
	"phone":      true,
	"pos":        true,
	"admin":      true,
	"in_person":  true,
	"uber_eats":  true,
	"rappi":      true,
	"didi_food":  true,
	"pedidos_ya": true,
}

// IsECommerceChannel informa si el canal de la orden cuenta como comercio electrónico.
func IsECommerceChannel(channel string) bool {
	return !nonDigitalChannels[channel]
}

// =============================================================================
// Límites del protocolo
// =============================================================================

const (
	// MaxTextLength longitud máxima de cualquier campo de texto.
	MaxTextLength = 255
	// QuantityScale las cantidades viajan en milésimas de unidad.
	QuantityScale = 1000
	// TimestampLayout formato de fecha local con offset explícito.
	TimestampLayout = "2006-01-02T15:04:05-07:00"
	// DateLayout formato de fecha de cierre.
	DateLayout = "2006-01-02"
	// ResultCodeSuccess código de resultado exitoso del registro.
	ResultCodeSuccess = "0000"
	// SignatureAlgorithmES256 único algoritmo aceptado por el protocolo.
	SignatureAlgorithmES256 = "ES256"
)
