package stdlib

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Rounding modes of ЦИФРЫ.
const (
	digitsSignificant = 0
	digitsFixed       = 1
)

const maxDigits = 100

// maxExactPlaces bounds the decimal places of any finite float64.
const maxExactPlaces = 1074

// registerDigits registers the rounding functions.
func (r *Registry) registerDigits() {
	r.Register("ЦИФРЫ", digits)
	r.Register("ПОМЕТОДИКЕN", methodDigits)
}

// digits implements ЦИФРЫ(value; n; mode). Mode 1 keeps n decimal places,
// where a negative n rounds to 10^|n| before the decimal point. Any other
// mode keeps n significant digits. The mode defaults to significant digits.
func digits(args []types.Value) (types.Value, error) {
	const name = "ЦИФРЫ"
	if err := requireArgs(name, args, 2, 3); err != nil {
		return types.Null, err
	}
	x, err := numberArg(name, args, 0)
	if err != nil {
		return types.Null, err
	}
	n, err := intArg(name, args, 1)
	if err != nil {
		return types.Null, err
	}
	mode := digitsSignificant
	if len(args) == 3 {
		if mode, err = intArg(name, args, 2); err != nil {
			return types.Null, err
		}
	}

	if mode == digitsFixed {
		if n > maxDigits {
			return types.Null, types.NewValueError(fmt.Sprintf("%s: %d decimal places out of range", name, n))
		}
		return types.NewNumber(roundDecimal(x, n)), nil
	}

	if n < 1 || n > maxDigits {
		return types.Null, types.NewValueError(fmt.Sprintf("%s: %d significant digits out of range", name, n))
	}
	return types.NewNumber(roundSignificant(x, n)), nil
}

// methodDigits implements ПОМЕТОДИКЕN(value; n): n decimal places.
func methodDigits(args []types.Value) (types.Value, error) {
	const name = "ПОМЕТОДИКЕN"
	if err := requireArgs(name, args, 2, 2); err != nil {
		return types.Null, err
	}
	x, err := numberArg(name, args, 0)
	if err != nil {
		return types.Null, err
	}
	n, err := intArg(name, args, 1)
	if err != nil {
		return types.Null, err
	}
	if n < 0 || n > maxDigits {
		return types.Null, types.NewValueError(fmt.Sprintf("%s: %d decimal places out of range", name, n))
	}
	return types.NewNumber(roundDecimal(x, n)), nil
}

var half = big.NewRat(1, 2)

// roundDecimal rounds x to a multiple of 10^-places, ties away from zero.
// The exact binary value of x is rounded, so 1.005 (stored as
// 1.00499999...) rounds down at two places.
func roundDecimal(x float64, places int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) || places > maxExactPlaces {
		return x
	}
	if places < -(decimalExponent(x) + 1) {
		return math.Copysign(0, x)
	}
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(places))), nil))

	r := new(big.Rat).SetFloat64(math.Abs(x))
	if places >= 0 {
		r.Mul(r, scale)
	} else {
		r.Quo(r, scale)
	}
	r.Add(r, half)

	out := new(big.Rat).SetInt(new(big.Int).Quo(r.Num(), r.Denom()))
	if places >= 0 {
		out.Quo(out, scale)
	} else {
		out.Mul(out, scale)
	}
	f, _ := out.Float64()
	return math.Copysign(f, x)
}

// roundSignificant rounds x to n significant digits, ties away from zero.
func roundSignificant(x float64, n int) float64 {
	if x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return roundDecimal(x, n-1-decimalExponent(x))
}

// decimalExponent returns e such that 10^e <= |x| < 10^(e+1).
func decimalExponent(x float64) int {
	s := strconv.FormatFloat(math.Abs(x), 'e', -1, 64)
	e, _ := strconv.Atoi(s[strings.IndexByte(s, 'e')+1:])
	return e
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
