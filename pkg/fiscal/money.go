package fiscal

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount el monto no es finito o no cabe en unidades menores.
var ErrInvalidAmount = errors.New("monto inválido")

var hundred = decimal.NewFromInt(100)

// ToMinorUnits convierte un monto decimal a unidades menores (centavos).
// Multiplica por 100 y redondea mitad-a-par (redondeo bancario); el signo se conserva.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred).RoundBank(0)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %s no es entero tras redondear", ErrInvalidAmount, amount.String())
	}
	bi := cents.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s fuera de rango", ErrInvalidAmount, amount.String())
	}
	return bi.Int64(), nil
}

// FloatToMinorUnits igual que ToMinorUnits pero desde float64; rechaza NaN e infinitos.
func FloatToMinorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: valor no finito", ErrInvalidAmount)
	}
	return ToMinorUnits(decimal.NewFromFloat(amount))
}

// QuantityToUnits convierte una cantidad decimal a milésimas de unidad (QuantityScale).
func QuantityToUnits(qty decimal.Decimal) (int64, error) {
	units := qty.Mul(decimal.NewFromInt(QuantityScale)).RoundBank(0)
	bi := units.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: cantidad %s fuera de rango", ErrInvalidAmount, qty.String())
	}
	return bi.Int64(), nil
}

// ValidateAmountsSum verifica subtotal + impuesto A + impuesto B == total con tolerancia de
// una unidad menor por redondeos independientes.
func ValidateAmountsSum(subtotal, taxA, taxB, total int64) bool {
	diff := subtotal + taxA + taxB - total
	return diff >= -1 && diff <= 1
}

// FormatMinorUnits representa unidades menores como "1234.56" (sin separador de miles).
func FormatMinorUnits(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
