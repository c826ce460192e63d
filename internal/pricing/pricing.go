// Package pricing converts pool state into float prices and token amounts between
// human and base units.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrConversion marks a value that cannot be represented after conversion.
	ErrConversion = errors.New("conversion error")
	// ErrZeroReserve marks a reserve ratio with a zero denominator.
	ErrZeroReserve = errors.New("zero reserve")
)

const floatPrec = 256

// q192 is 2^192, the scale of a squared Q64.96 value.
var q192 = new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

// PriceFromSqrt returns the token1-per-token0 price encoded by a Q64.96 square-root price.
// A zero input is an uninitialized pool and yields 0.
func PriceFromSqrt(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) (float64, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0, nil
	}
	if sqrtPriceX96.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative sqrt price %s", ErrConversion, sqrtPriceX96)
	}

	sqrt := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX96)
	price := new(big.Float).SetPrec(floatPrec).Mul(sqrt, sqrt)
	price.Quo(price, q192)
	adjustDecimals(price, decimals0, decimals1)

	return toFinite(price)
}

// PriceFromReserves returns reserve1/reserve0 adjusted for token decimals.
func PriceFromReserves(reserve0, reserve1 *big.Int, decimals0, decimals1 uint8) (float64, error) {
	if reserve0 == nil || reserve0.Sign() == 0 {
		return 0, ErrZeroReserve
	}
	if reserve1 == nil {
		return 0, fmt.Errorf("%w: missing reserve1", ErrConversion)
	}
	if reserve0.Sign() < 0 || reserve1.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative reserve", ErrConversion)
	}

	price := new(big.Float).SetPrec(floatPrec).SetInt(reserve1)
	price.Quo(price, new(big.Float).SetPrec(floatPrec).SetInt(reserve0))
	adjustDecimals(price, decimals0, decimals1)

	return toFinite(price)
}

// AmountToBaseUnits scales a human amount by 10^decimals, rounding to the nearest unit.
func AmountToBaseUnits(amount float64, decimals uint8) (*big.Int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: non-finite amount", ErrConversion)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative amount %v", ErrConversion, amount)
	}
	return decimal.NewFromFloat(amount).Shift(int32(decimals)).Round(0).BigInt(), nil
}

// BaseUnitsToAmount is the inverse of AmountToBaseUnits.
func BaseUnitsToAmount(value *big.Int, decimals uint8) float64 {
	if value == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(value, -int32(decimals)).Float64()
	return f
}

// FormatUnits renders a base-unit amount as an exact decimal string.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

func adjustDecimals(price *big.Float, decimals0, decimals1 uint8) {
	diff := int64(decimals0) - int64(decimals1)
	if diff == 0 {
		return
	}
	exp := diff
	if exp < 0 {
		exp = -exp
	}
	factor := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
	if diff > 0 {
		price.Mul(price, factor)
	} else {
		price.Quo(price, factor)
	}
}

func toFinite(value *big.Float) (float64, error) {
	f, _ := value.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: price out of float64 range", ErrConversion)
	}
	return f, nil
}
