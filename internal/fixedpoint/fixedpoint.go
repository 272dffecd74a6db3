// Package fixedpoint implements a signed 18-decimal fixed-point number that
// reproduces on-chain integer arithmetic.
//
// A FixedPoint holds either a scaled integer (value * 1e18, bounded to the
// signed 256-bit range) or one of the non-finite tags nan, inf and -inf.
// Finite arithmetic rounds toward negative infinity:
//
//	a * b = floor(a*b / 1e18)
//	a / b = floor(a*1e18 / b)
//	a ** b = exp(b * ln(a) / 1e18)
//
// Non-finite operands follow IEEE-754 style propagation. Operators panic
// with *Error on overflow, division by zero or a domain error; callers
// that return errors convert the panic with Recover.
package fixedpoint

import (
	"math"
	"math/big"

	"github.com/cespare/xxhash/v2"
)

type kind uint8

const (
	finite kind = iota
	nan
	posInf
	negInf
)

// FixedPoint is an immutable value. The zero value is 0.
type FixedPoint struct {
	v    *big.Int
	kind kind
}

var (
	bigZero = new(big.Int)

	// Zero is 0.0.
	Zero = FixedPoint{}
	// One is 1.0.
	One = FromInt(1)
	// WEI is the smallest positive increment, 1e-18.
	WEI = FromRaw(1)
)

// FromScaled wraps an already-scaled integer. The input is copied.
func FromScaled(v *big.Int) FixedPoint {
	if !inRange(v) {
		fail("FromScaled", ErrOverflow)
	}
	return FixedPoint{v: new(big.Int).Set(v)}
}

// FromRaw wraps an already-scaled int64.
func FromRaw(v int64) FixedPoint {
	return FixedPoint{v: big.NewInt(v)}
}

// FromInt converts a whole number.
func FromInt(n int64) FixedPoint {
	v := big.NewInt(n)
	return FixedPoint{v: v.Mul(v, One18)}
}

// FromFloat scales f by 1e18 and truncates toward zero. Non-finite floats
// map to the matching tag.
func FromFloat(f float64) FixedPoint {
	switch {
	case math.IsNaN(f):
		return NaN()
	case math.IsInf(f, 1):
		return Inf(1)
	case math.IsInf(f, -1):
		return Inf(-1)
	}
	scaled, _ := new(big.Float).SetFloat64(f * 1e18).Int(nil)
	if !inRange(scaled) {
		fail("FromFloat", ErrOverflow)
	}
	return FixedPoint{v: scaled}
}

// NaN returns the not-a-number value.
func NaN() FixedPoint { return FixedPoint{kind: nan} }

// Inf returns +inf for sign >= 0 and -inf otherwise.
func Inf(sign int) FixedPoint {
	if sign < 0 {
		return FixedPoint{kind: negInf}
	}
	return FixedPoint{kind: posInf}
}

func (x FixedPoint) raw() *big.Int {
	if x.v == nil {
		return bigZero
	}
	return x.v
}

// result unwraps a kernel call for op, panicking on its error.
func result(op string) func(*big.Int, error) FixedPoint {
	return func(v *big.Int, err error) FixedPoint {
		if err != nil {
			fail(op, err)
		}
		return FixedPoint{v: v}
	}
}

// Scaled returns a copy of the scaled integer. Non-finite values return 0.
func (x FixedPoint) Scaled() *big.Int {
	return new(big.Int).Set(x.raw())
}

func (x FixedPoint) IsNaN() bool { return x.kind == nan }
func (x FixedPoint) IsFinite() bool { return x.kind == finite }

// IsInf reports whether x is +inf or -inf.
func (x FixedPoint) IsInf() bool { return x.kind == posInf || x.kind == negInf }
func (x FixedPoint) IsZero() bool { return x.kind == finite && x.raw().Sign() == 0 }
func (x FixedPoint) IsNegative() bool {
	return x.kind == negInf || (x.kind == finite && x.raw().Sign() < 0)
}
func (x FixedPoint) IsPositive() bool {
	return x.kind == posInf || (x.kind == finite && x.raw().Sign() > 0)
}

// Sign returns -1, 0 or 1. nan reports 0.
func (x FixedPoint) Sign() int {
	switch x.kind {
	case posInf:
		return 1
	case negInf:
		return -1
	case nan:
		return 0
	}
	return x.raw().Sign()
}

// Add returns x + y.
func (x FixedPoint) Add(y FixedPoint) FixedPoint {
	if x.IsNaN() || y.IsNaN() {
		return NaN()
	}
	if x.IsInf() {
		if y.IsInf() && x.kind != y.kind {
			return NaN()
		}
		return x
	}
	if y.IsInf() {
		return y
	}
	return result("add")(AddInt(x.raw(), y.raw()))
}

// Sub returns x - y.
func (x FixedPoint) Sub(y FixedPoint) FixedPoint {
	if x.IsNaN() || y.IsNaN() {
		return NaN()
	}
	if x.IsInf() {
		if y.kind == x.kind {
			return NaN()
		}
		return x
	}
	if y.IsInf() {
		return y.Neg()
	}
	return result("sub")(SubInt(x.raw(), y.raw()))
}

// specialMul resolves multiplication when either side is non-finite or zero.
func specialMul(x, y FixedPoint) (FixedPoint, bool) {
	if x.IsNaN() || y.IsNaN() {
		return NaN(), true
	}
	if x.IsZero() || y.IsZero() {
		if x.IsInf() || y.IsInf() {
			return NaN(), true
		}
		return Zero, true
	}
	if x.IsInf() || y.IsInf() {
		return Inf(x.Sign() * y.Sign()), true
	}
	return FixedPoint{}, false
}

// Mul returns x * y rounded down.
func (x FixedPoint) Mul(y FixedPoint) FixedPoint {
	if r, ok := specialMul(x, y); ok {
		return r
	}
	return result("mul")(MulDown(x.raw(), y.raw()))
}

// MulUp returns x * y rounded up.
func (x FixedPoint) MulUp(y FixedPoint) FixedPoint {
	if r, ok := specialMul(x, y); ok {
		return r
	}
	return result("mul_up")(MulUp(x.raw(), y.raw()))
}

func specialDiv(op string, x, y FixedPoint) (FixedPoint, bool) {
	if y.IsZero() {
		fail(op, ErrDivisionByZero)
	}
	if x.IsNaN() || y.IsNaN() {
		return NaN(), true
	}
	if x.IsInf() {
		if y.IsInf() {
			return NaN(), true
		}
		return x, true
	}
	if y.IsInf() {
		return Zero, true
	}
	return FixedPoint{}, false
}

// Div returns x / y rounded down.
func (x FixedPoint) Div(y FixedPoint) FixedPoint {
	if r, ok := specialDiv("div", x, y); ok {
		return r
	}
	return result("div")(DivDown(x.raw(), y.raw()))
}

// DivUp returns x / y with the magnitude rounded up.
func (x FixedPoint) DivUp(y FixedPoint) FixedPoint {
	if r, ok := specialDiv("div_up", x, y); ok {
		return r
	}
	return result("div_up")(DivUp(x.raw(), y.raw()))
}

// FloorDiv returns floor(x / y).
func (x FixedPoint) FloorDiv(y FixedPoint) FixedPoint {
	return x.Div(y).Floor()
}

// Mod returns x - y*floor(x/y); the result takes the sign of y.
func (x FixedPoint) Mod(y FixedPoint) FixedPoint {
	if y.IsZero() {
		fail("mod", ErrDivisionByZero)
	}
	if !x.IsFinite() || y.IsNaN() {
		return NaN()
	}
	if y.IsInf() {
		return x
	}
	return x.Sub(y.Mul(x.Div(y).Floor()))
}

// Pow returns x ** y. Finite operands use the integer kernel; anything
// non-finite falls back to float64 exponentiation.
func (x FixedPoint) Pow(y FixedPoint) FixedPoint {
	if y.IsZero() || x.Eq(One) {
		return One
	}
	if x.IsFinite() && y.IsFinite() {
		return result("pow")(Pow(x.raw(), y.raw()))
	}
	return FromFloat(math.Pow(x.Float64(), y.Float64()))
}

// Sqrt returns the square root. nan and inf return themselves.
func (x FixedPoint) Sqrt() FixedPoint {
	switch x.kind {
	case nan, posInf:
		return x
	case negInf:
		fail("sqrt", ErrInvalidArgument)
	}
	return result("sqrt")(Sqrt(x.raw()))
}

// Neg returns -x.
func (x FixedPoint) Neg() FixedPoint {
	switch x.kind {
	case nan:
		return x
	case posInf:
		return Inf(-1)
	case negInf:
		return Inf(1)
	}
	return result("neg")(SubInt(bigZero, x.raw()))
}

// Abs returns |x|.
func (x FixedPoint) Abs() FixedPoint {
	switch x.kind {
	case nan:
		return x
	case posInf, negInf:
		return Inf(1)
	}
	return FixedPoint{v: new(big.Int).Abs(x.raw())}
}

// Eq reports x == y. nan is unequal to everything.
func (x FixedPoint) Eq(y FixedPoint) bool {
	if x.IsNaN() || y.IsNaN() {
		return false
	}
	if !x.IsFinite() || !y.IsFinite() {
		return x.kind == y.kind
	}
	return x.raw().Cmp(y.raw()) == 0
}

// order compares two non-nan values.
func order(x, y FixedPoint) int {
	if x.IsFinite() && y.IsFinite() {
		return x.raw().Cmp(y.raw())
	}
	rank := func(v FixedPoint) int {
		switch v.kind {
		case posInf:
			return 1
		case negInf:
			return -1
		}
		return 0
	}
	rx, ry := rank(x), rank(y)
	switch {
	case rx < ry:
		return -1
	case rx > ry:
		return 1
	}
	return 0
}

func (x FixedPoint) Lt(y FixedPoint) bool {
	return !x.IsNaN() && !y.IsNaN() && order(x, y) < 0
}

func (x FixedPoint) Le(y FixedPoint) bool {
	return !x.IsNaN() && !y.IsNaN() && order(x, y) <= 0
}

func (x FixedPoint) Gt(y FixedPoint) bool {
	return !x.IsNaN() && !y.IsNaN() && order(x, y) > 0
}

func (x FixedPoint) Ge(y FixedPoint) bool {
	return !x.IsNaN() && !y.IsNaN() && order(x, y) >= 0
}

// Cmp orders values for sorting: -inf < finite < inf. nan compares equal
// to everything, so keep it out of sorted collections.
func (x FixedPoint) Cmp(y FixedPoint) int {
	if x.IsNaN() || y.IsNaN() {
		return 0
	}
	return order(x, y)
}

// Min returns the smaller of a and b, or nan if either is nan.
func Min(a, b FixedPoint) FixedPoint {
	if a.IsNaN() || b.IsNaN() {
		return NaN()
	}
	if b.Lt(a) {
		return b
	}
	return a
}

// Max returns the larger of a and b, or nan if either is nan.
func Max(a, b FixedPoint) FixedPoint {
	if a.IsNaN() || b.IsNaN() {
		return NaN()
	}
	if b.Gt(a) {
		return b
	}
	return a
}

// Trunc rounds toward zero.
func (x FixedPoint) Trunc() FixedPoint {
	if !x.IsFinite() {
		return x
	}
	q := new(big.Int).Quo(x.raw(), One18)
	return FixedPoint{v: q.Mul(q, One18)}
}

// Floor rounds toward negative infinity.
func (x FixedPoint) Floor() FixedPoint {
	if !x.IsFinite() {
		return x
	}
	q := floorDiv(x.raw(), One18)
	return FixedPoint{v: q.Mul(q, One18)}
}

// Ceil rounds toward positive infinity.
func (x FixedPoint) Ceil() FixedPoint {
	if !x.IsFinite() {
		return x
	}
	q, r := new(big.Int).QuoRem(x.raw(), One18, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return FixedPoint{v: q.Mul(q, One18)}
}

// Round rounds half to even at ndigits fractional digits. A negative
// ndigits rounds to tens, hundreds and so on: Round(-2) of 1250 is 1200.
func (x FixedPoint) Round(ndigits int) FixedPoint {
	if !x.IsFinite() || ndigits >= Decimals {
		return x
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-ndigits)), nil)
	mag := new(big.Int).Abs(x.raw())
	q, r := new(big.Int).QuoRem(mag, unit, new(big.Int))
	switch r.Lsh(r, 1).Cmp(unit) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	q.Mul(q, unit)
	if x.raw().Sign() < 0 {
		q.Neg(q)
	}
	if !inRange(q) {
		fail("round", ErrOverflow)
	}
	return FixedPoint{v: q}
}

// Int returns floor(x) as an integer.
func (x FixedPoint) Int() *big.Int {
	if !x.IsFinite() {
		fail("int", ErrInvalidArgument)
	}
	return floorDiv(x.raw(), One18)
}

// Float64 converts through the decimal string, matching float(str(x)).
func (x FixedPoint) Float64() float64 {
	switch x.kind {
	case nan:
		return math.NaN()
	case posInf:
		return math.Inf(1)
	case negInf:
		return math.Inf(-1)
	}
	f, _ := new(big.Float).SetPrec(200).SetInt(x.raw()).Float64()
	return f / 1e18
}

// Hash is stable across equal values, including every nan.
func (x FixedPoint) Hash() uint64 {
	d := xxhash.New()
	d.Write([]byte{byte(x.kind)})
	if x.IsFinite() {
		d.Write([]byte{byte(x.raw().Sign() + 1)})
		d.Write(x.raw().Bytes())
	}
	return d.Sum64()
}
