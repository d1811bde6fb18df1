package stdlib

import "math"

// registerMath registers the numeric functions.
func (r *Registry) registerMath() {
	r.Register("EXP", unary("EXP", math.Exp))
	r.Register("LN", unary("LN", math.Log))
	r.Register("SIN", unary("SIN", math.Sin))
	r.Register("COS", unary("COS", math.Cos))
	r.Register("TG", unary("TG", math.Tan))
	r.Register("CTG", unary("CTG", cot))
	r.Register("ARCSIN", unary("ARCSIN", math.Asin))
	r.Register("ARCCOS", unary("ARCCOS", math.Acos))
	r.Register("ARCTG", unary("ARCTG", math.Atan))
	r.Register("ARCCTG", unary("ARCCTG", acot))
	r.Register("ABS", unary("ABS", math.Abs))
	r.Register("SQRT", unary("SQRT", math.Sqrt))
	r.Register("INT", unary("INT", math.Trunc))
	r.Register("FRAC", unary("FRAC", frac))
	r.Register("NOTZER", unary("NOTZER", notZero))
}

func cot(x float64) float64 {
	return 1 / math.Tan(x)
}

// acot is the inverse cotangent with range (0, π).
func acot(x float64) float64 {
	return math.Pi/2 - math.Atan(x)
}

// frac returns the fractional part, keeping the sign of x.
func frac(x float64) float64 {
	return math.Mod(x, 1)
}

// notZero clamps negative values (and zero) to 0.
func notZero(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
