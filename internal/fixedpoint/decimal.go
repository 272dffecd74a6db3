package fixedpoint

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// FromDecimal converts an arbitrary-precision decimal, truncating toward
// zero past 18 fractional digits.
func FromDecimal(d decimal.Decimal) (FixedPoint, error) {
	v := d.Shift(Decimals).BigInt()
	if !inRange(v) {
		return FixedPoint{}, fmt.Errorf("%w: %s", ErrOverflow, d)
	}
	return FixedPoint{v: v}, nil
}

// Decimal returns the exact decimal value. Non-finite values have no
// decimal form.
func (x FixedPoint) Decimal() (decimal.Decimal, error) {
	if !x.IsFinite() {
		return decimal.Zero, fmt.Errorf("%w: %s has no decimal form", ErrInvalidArgument, x)
	}
	return decimal.NewFromBigInt(x.raw(), -Decimals), nil
}

// MarshalJSON encodes the value as a JSON string so no precision is lost.
func (x FixedPoint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted FixedPoint string or a bare JSON number.
func (x *FixedPoint) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*x = FixedPoint{}
		return nil
	}
	return x.UnmarshalText(bytes.Trim(b, `"`))
}

func (x FixedPoint) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText parses the FixedPoint grammar first and falls back to
// general decimal notation such as "1e6".
func (x *FixedPoint) UnmarshalText(b []byte) error {
	s := string(b)
	v, err := Parse(s)
	if err == nil {
		*x = v
		return nil
	}
	d, derr := decimal.NewFromString(s)
	if derr != nil {
		return err
	}
	v, err = FromDecimal(d)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
