package fixedpoint

import (
	"fmt"
	"math/big"
)

// Integer kernel on 1e18-scaled integers bounded to the signed 256-bit range.
//
// ln and exp use range reduction into a 2^96 fixed-point basis followed by a
// rational polynomial approximation (Solmate/Balancer coefficients), so the
// results match the on-chain library bit for bit.

var (
	// IntMax is 2^255 - 1.
	IntMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))

	// IntMin is -2^255.
	IntMin = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))

	// ExpMax is floor(ln((2^255-1)/1e18) * 1e18).
	ExpMax = mustInt("135305999368893231589")

	// ExpMin is floor(ln(0.5e-18) * 1e18).
	ExpMin = mustInt("-42139678854452767622")

	// One18 is 1.0 in scaled units.
	One18 = big.NewInt(1_000_000_000_000_000_000)

	five18  = new(big.Int).Exp(big.NewInt(5), big.NewInt(18), nil)
	halfE18 = big.NewInt(500_000_000_000_000_000)
	two95   = new(big.Int).Lsh(big.NewInt(1), 95)

	lnP = [...]*big.Int{
		mustInt("3273285459638523848632254066296"),
		mustInt("24828157081833163892658089445524"),
		mustInt("43456485725739037958740375743393"),
		mustInt("11111509109440967052023855526967"),
		mustInt("45023709667254063763336534515857"),
		mustInt("14706773417378608786704636184526"),
		mustInt("795164235651350426258249787498"),
	}
	lnQ = [...]*big.Int{
		mustInt("5573035233440673466300451813936"),
		mustInt("71694874799317883764090561454958"),
		mustInt("283447036172924575727196451306956"),
		mustInt("401686690394027663651624208769553"),
		mustInt("204048457590392012362485061816622"),
		mustInt("31853899698501571402653359427138"),
		mustInt("909429971244387300277376558375"),
	}
	lnScale = mustInt("1677202110996718588342820967067443963516166")
	lnLn2   = mustInt("16597577552685614221487285958193947469193820559219878177908093499208371")
	lnBias  = mustInt("600920179829731861736702779321621459595472258049074101567377883020018308")

	expLn2 = mustInt("54916777467707473351141471128")
	expP   = [...]*big.Int{
		mustInt("2772001395605857295435445496992"),
		mustInt("44335888930127919016834873520032"),
		mustInt("398888492587501845352592340339721"),
		mustInt("1993839819670624470859228494792842"),
		mustInt("4385272521454847904659076985693276"),
	}
	expZ = [...]*big.Int{
		mustInt("750530180792738023273180420736"),
		mustInt("32788456221302202726307501949080"),
	}
	expW = [...]*big.Int{
		mustInt("2218138959503481824038194425854"),
		mustInt("892943633302991980437332862907700"),
	}
	expQ = [...]*big.Int{
		mustInt("78174809823045304726920794422040"),
		mustInt("4203224763890128580604056984195872"),
	}
	expScale = mustInt("3822833074963236453042738258902158003155416615667")
)

func mustInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: bad constant " + s)
	}
	return v
}

func inRange(v *big.Int) bool {
	return v.Cmp(IntMax) <= 0 && v.Cmp(IntMin) >= 0
}

// floorDiv returns floor(a/b) for b != 0.
func floorDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && r.Sign() != b.Sign() {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

// AddInt returns a+b, failing if the sum leaves [IntMin, IntMax].
func AddInt(a, b *big.Int) (*big.Int, error) {
	c := new(big.Int).Add(a, b)
	if !inRange(c) {
		return nil, fmt.Errorf("%w: add leaves 256-bit range", ErrOverflow)
	}
	return c, nil
}

// SubInt returns a-b, failing if the difference leaves [IntMin, IntMax].
func SubInt(a, b *big.Int) (*big.Int, error) {
	c := new(big.Int).Sub(a, b)
	if !inRange(c) {
		return nil, fmt.Errorf("%w: sub leaves 256-bit range", ErrOverflow)
	}
	return c, nil
}

func mulChecked(x, y, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	z := new(big.Int).Mul(x, y)
	if !inRange(z) {
		return nil, fmt.Errorf("%w: product exceeds 256 bits", ErrOverflow)
	}
	return z, nil
}

// MulDivDown returns floor(x*y/d).
func MulDivDown(x, y, d *big.Int) (*big.Int, error) {
	z, err := mulChecked(x, y, d)
	if err != nil {
		return nil, err
	}
	return floorDiv(z, d), nil
}

// MulDivUp returns floor((x*y-1)/d)+1, or 0 when the product is zero.
func MulDivUp(x, y, d *big.Int) (*big.Int, error) {
	z, err := mulChecked(x, y, d)
	if err != nil {
		return nil, err
	}
	if z.Sign() == 0 {
		return new(big.Int), nil
	}
	q := floorDiv(z.Sub(z, big.NewInt(1)), d)
	return q.Add(q, big.NewInt(1)), nil
}

// MulDown returns floor(a*b/1e18).
func MulDown(a, b *big.Int) (*big.Int, error) { return MulDivDown(a, b, One18) }

// MulUp returns a*b/1e18 rounded away from zero.
func MulUp(a, b *big.Int) (*big.Int, error) { return mulDivAway(a, b, One18) }

// DivDown returns floor(a*1e18/b).
func DivDown(a, b *big.Int) (*big.Int, error) { return MulDivDown(a, One18, b) }

// DivUp returns a*1e18/b rounded away from zero.
func DivUp(a, b *big.Int) (*big.Int, error) { return mulDivAway(a, One18, b) }

// mulDivAway rounds the magnitudes up, then applies the combined sign.
// Zero counts as positive for the sign.
func mulDivAway(x, y, d *big.Int) (*big.Int, error) {
	r, err := MulDivUp(new(big.Int).Abs(x), new(big.Int).Abs(y), new(big.Int).Abs(d))
	if err != nil {
		return nil, err
	}
	if (x.Sign() < 0) != (y.Sign() < 0) != (d.Sign() < 0) {
		r.Neg(r)
	}
	return r, nil
}

// ILog2 returns floor(log2(x)) for x > 0 and 0 otherwise.
func ILog2(x *big.Int) int {
	if x.Sign() <= 0 {
		return 0
	}
	return x.BitLen() - 1
}

func mulShift(p, x *big.Int) *big.Int {
	p.Mul(p, x)
	return p.Rsh(p, 96)
}

// Ln returns ln(x) in 1e18 fixed point.
func Ln(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, fmt.Errorf("%w: ln of non-positive value %s", ErrInvalidArgument, x)
	}
	k := ILog2(x) - 96
	v := new(big.Int).Lsh(x, uint(159-k))
	v.Rsh(v, 159)

	p := new(big.Int).Add(v, lnP[0])
	p = mulShift(p, v).Add(p, lnP[1])
	p = mulShift(p, v).Add(p, lnP[2])
	p = mulShift(p, v).Sub(p, lnP[3])
	p = mulShift(p, v).Sub(p, lnP[4])
	p = mulShift(p, v).Sub(p, lnP[5])
	p.Mul(p, v)
	p.Sub(p, new(big.Int).Lsh(lnP[6], 96))

	q := new(big.Int).Add(v, lnQ[0])
	for _, c := range lnQ[1:] {
		q = mulShift(q, v).Add(q, c)
	}

	r := floorDiv(p, q)
	r.Mul(r, lnScale)
	r.Add(r, new(big.Int).Mul(lnLn2, big.NewInt(int64(k))))
	r.Add(r, lnBias)
	return r.Rsh(r, 174), nil
}

// Exp returns e^x in 1e18 fixed point. Inputs at or below ExpMin return 0.
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(ExpMin) <= 0 {
		return new(big.Int), nil
	}
	if x.Cmp(ExpMax) >= 0 {
		return nil, fmt.Errorf("%w: exp argument %s must be below %s", ErrOverflow, x, ExpMax)
	}
	v := floorDiv(new(big.Int).Lsh(x, 78), five18)

	kb := floorDiv(new(big.Int).Lsh(v, 96), expLn2)
	kb.Add(kb, two95)
	kb.Rsh(kb, 96)
	k := kb.Int64()
	v.Sub(v, new(big.Int).Mul(kb, expLn2))

	p := new(big.Int).Add(v, expP[0])
	p = mulShift(p, v).Add(p, expP[1])
	p = mulShift(p, v).Add(p, expP[2])
	p = mulShift(p, v).Add(p, expP[3])
	p.Mul(p, v)
	p.Add(p, new(big.Int).Lsh(expP[4], 96))

	z := new(big.Int).Add(v, expZ[0])
	z = mulShift(z, v).Add(z, expZ[1])
	w := new(big.Int).Sub(v, expW[0])
	w = mulShift(w, z).Add(w, expW[1])
	q := new(big.Int).Add(z, w)
	q.Sub(q, expQ[0])
	q = mulShift(q, w).Add(q, expQ[1])

	r := floorDiv(p, q)
	r.Mul(r, expScale)
	shift := 195 - k
	if shift < 0 {
		return r.Lsh(r, uint(-shift)), nil
	}
	return r.Rsh(r, uint(shift)), nil
}

// Pow returns x^y = exp(y*ln(x)/1e18), with pow(0,0) = 1 and pow(0,y) = 0.
func Pow(x, y *big.Int) (*big.Int, error) {
	if x.Sign() == 0 {
		if y.Sign() == 0 {
			return new(big.Int).Set(One18), nil
		}
		return new(big.Int), nil
	}
	lnx, err := Ln(x)
	if err != nil {
		return nil, err
	}
	ylnx := floorDiv(lnx.Mul(lnx, y), One18)
	return Exp(ylnx)
}

// Sqrt returns pow(x, 0.5). 0 and 1 are returned exactly.
func Sqrt(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: sqrt of negative value %s", ErrInvalidArgument, x)
	}
	if x.Sign() == 0 || x.Cmp(One18) == 0 {
		return new(big.Int).Set(x), nil
	}
	return Pow(x, halfE18)
}
