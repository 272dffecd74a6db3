package fixedpoint

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Decimals is the number of fractional digits carried by a FixedPoint.
const Decimals = 18

// Optional sign, digits grouped in threes by optional underscores, optional fraction.
var numberPattern = regexp.MustCompile(`^-?\d{1,3}(?:_?\d{3})*(?:\.\d+)?$`)

// Parse reads a decimal string such as "1.5", "-0.25", "1_000_000.0" or one
// of "nan", "inf", "-inf" (any case). Fraction digits past the 18th are
// truncated.
func Parse(s string) (FixedPoint, error) {
	switch strings.ToLower(s) {
	case "nan":
		return NaN(), nil
	case "inf":
		return Inf(1), nil
	case "-inf":
		return Inf(-1), nil
	}
	if !numberPattern.MatchString(s) {
		return FixedPoint{}, fmt.Errorf("%w: %q", ErrInvalidString, s)
	}
	s = strings.ReplaceAll(s, "_", "")
	integer, frac, _ := strings.Cut(s, ".")
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	v, _ := new(big.Int).SetString(integer, 10)
	v.Mul(v, One18)
	f, _ := new(big.Int).SetString(frac, 10)
	if strings.HasPrefix(integer, "-") {
		v.Sub(v, f)
	} else {
		v.Add(v, f)
	}
	if !inRange(v) {
		return FixedPoint{}, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return FixedPoint{v: v}, nil
}

// MustParse is Parse for constants; it panics on bad input.
func MustParse(s string) FixedPoint {
	x, err := Parse(s)
	if err != nil {
		fail("parse", err)
	}
	return x
}

// String renders the shortest exact decimal form with at least one
// fractional digit, e.g. "1.0", "-0.05", "inf".
func (x FixedPoint) String() string {
	switch x.kind {
	case nan:
		return "nan"
	case posInf:
		return "inf"
	case negInf:
		return "-inf"
	}
	digits := new(big.Int).Abs(x.raw()).String()
	if len(digits) <= Decimals {
		digits = strings.Repeat("0", Decimals-len(digits)+1) + digits
	}
	cut := len(digits) - Decimals
	integer, frac := digits[:cut], strings.TrimRight(digits[cut:], "0")
	if frac == "" {
		frac = "0"
	}
	if x.raw().Sign() < 0 {
		integer = "-" + integer
	}
	return integer + "." + frac
}

// GoString makes %#v print a constructor expression.
func (x FixedPoint) GoString() string {
	return fmt.Sprintf("fixedpoint.MustParse(%q)", x.String())
}
