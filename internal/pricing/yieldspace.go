package pricing

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// YieldSpace prices every trade on the curve for the time remaining.
type YieldSpace struct {
	common
}

func NewYieldSpace(cfg Config) YieldSpace {
	return YieldSpace{common{cfg: cfg}}
}

func (YieldSpace) ModelName() string { return "YieldSpace" }
func (YieldSpace) ModelType() string { return "yieldspace" }

// invariant holds the curve terms shared by the four closed-form solutions.
type invariant struct {
	z, mu, cDivMu, bonds fp // bonds is y+s
	te, inv              fp // 1-τ and 1/(1-τ)
	k                    fp
}

func newInvariant(state *model.MarketState, remaining hypertime.StretchedTime) invariant {
	iv := invariant{
		z:     state.ShareReserves,
		mu:    state.InitSharePrice,
		bonds: state.BondReserves.Add(state.LPTotalSupply),
	}
	iv.cDivMu = state.SharePrice.Div(iv.mu)
	iv.te = fixedpoint.One.Sub(remaining.Stretched())
	iv.inv = fixedpoint.One.DivUp(iv.te)
	iv.k = iv.cDivMu.Mul(iv.mu.Mul(iv.z).Pow(iv.te)).Add(iv.bonds.Pow(iv.te))
	return iv
}

// bondsInGivenSharesOut is (k - (c/μ)·(μ(z-dz))^te)^(1/te) - (y+s).
func (iv invariant) bondsInGivenSharesOut(dz fp) fp {
	rest := iv.cDivMu.Mul(iv.mu.Mul(iv.z.Sub(dz)).Pow(iv.te))
	return iv.k.Sub(rest).Pow(iv.inv).Sub(iv.bonds)
}

// bondsOutGivenSharesIn is (y+s) - (k - (c/μ)·(μ(z+dz))^te)^(1/te).
func (iv invariant) bondsOutGivenSharesIn(dz fp) fp {
	rest := iv.cDivMu.Mul(iv.mu.Mul(iv.z.Add(dz)).Pow(iv.te))
	return iv.bonds.Sub(iv.k.Sub(rest).Pow(iv.inv))
}

// sharesInGivenBondsOut is ((k - (y+s-dy)^te)/(c/μ))^(1/te)/μ - z, rounded
// up in the pool's favour.
func (iv invariant) sharesInGivenBondsOut(dy fp) fp {
	inner := iv.k.Sub(iv.bonds.Sub(dy).Pow(iv.te)).Div(iv.cDivMu)
	return inner.Pow(iv.inv).DivUp(iv.mu).Sub(iv.z)
}

// sharesOutGivenBondsIn is z - ((k - (y+s+dy)^te)/(c/μ))^(1/te)/μ.
func (iv invariant) sharesOutGivenBondsIn(dy fp) fp {
	inner := iv.k.Sub(iv.bonds.Add(dy).Pow(iv.te)).Div(iv.cDivMu)
	return iv.z.Sub(fixedpoint.One.Div(iv.mu).Mul(inner.Pow(iv.inv)))
}

// CalcInGivenOut returns what must be paid to receive out. Fees are charged
// on the discount from the linear spot-price estimate and add to the
// amount paid.
func (m YieldSpace) CalcInGivenOut(out model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (res TradeResult, err error) {
	if err := m.CheckInputAssertions(out, state, remaining); err != nil {
		return TradeResult{}, err
	}
	defer fixedpoint.Recover(&err)

	c := state.SharePrice
	p := spotPrice(state, remaining)
	iv := newInvariant(state, remaining)

	var b TradeBreakdown
	switch out.Unit {
	case model.TokenBase:
		dz := out.Amount.Div(c)
		b.WithoutFeeOrSlippage = fixedpoint.One.Div(p).Mul(c).Mul(dz)
		b.WithoutFee = iv.bondsInGivenSharesOut(dz)
		b.CurveFee = out.Amount.Sub(b.WithoutFeeOrSlippage).Abs().Mul(state.CurveFeeMultiple)
	default:
		dy := out.Amount
		b.WithoutFeeOrSlippage = p.Mul(dy)
		b.WithoutFee = iv.sharesInGivenBondsOut(dy).Mul(c)
		b.CurveFee = dy.Sub(b.WithoutFeeOrSlippage).Abs().Mul(state.CurveFeeMultiple)
	}
	b.GovCurveFee = b.CurveFee.Mul(state.GovernanceFeeMultiple)
	b.WithFee = b.WithoutFee.Add(b.CurveFee).Add(b.GovCurveFee)

	res.Breakdown = b
	if out.Unit == model.TokenBase {
		res.User = TradeDeltas{DBase: out.Amount, DBonds: b.WithFee.Neg()}
		res.Market = TradeDeltas{DBase: out.Amount.Neg(), DBonds: b.WithFee}
	} else {
		res.User = TradeDeltas{DBase: b.WithFee.Neg(), DBonds: out.Amount}
		res.Market = TradeDeltas{DBase: b.WithFee, DBonds: out.Amount.Neg()}
	}
	return res, nil
}

// CalcOutGivenIn returns what is received for paying in. Fees are charged
// on the discount from the linear spot-price estimate and reduce the
// amount received.
func (m YieldSpace) CalcOutGivenIn(in model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (res TradeResult, err error) {
	if err := m.CheckInputAssertions(in, state, remaining); err != nil {
		return TradeResult{}, err
	}
	defer fixedpoint.Recover(&err)

	c := state.SharePrice
	p := spotPrice(state, remaining)
	iv := newInvariant(state, remaining)

	var b TradeBreakdown
	switch in.Unit {
	case model.TokenBase:
		dz := in.Amount.Div(c)
		b.WithoutFeeOrSlippage = fixedpoint.One.Div(p).Mul(c).Mul(dz)
		b.WithoutFee = iv.bondsOutGivenSharesIn(dz)
		b.CurveFee = b.WithoutFeeOrSlippage.Sub(in.Amount).Mul(state.CurveFeeMultiple)
	default:
		dy := in.Amount
		b.WithoutFeeOrSlippage = p.Mul(dy)
		b.WithoutFee = iv.sharesOutGivenBondsIn(dy).Mul(c)
		b.CurveFee = dy.Sub(b.WithoutFeeOrSlippage).Mul(state.CurveFeeMultiple)
	}
	b.GovCurveFee = b.CurveFee.Mul(state.GovernanceFeeMultiple)
	b.WithFee = b.WithoutFee.Sub(b.CurveFee).Sub(b.GovCurveFee)

	res.Breakdown = b
	if in.Unit == model.TokenBase {
		res.User = TradeDeltas{DBase: in.Amount.Neg(), DBonds: b.WithFee}
		res.Market = TradeDeltas{DBase: in.Amount, DBonds: b.WithFee.Neg()}
	} else {
		res.User = TradeDeltas{DBase: b.WithFee, DBonds: in.Amount.Neg()}
		res.Market = TradeDeltas{DBase: b.WithFee.Neg(), DBonds: in.Amount}
	}
	return res, nil
}
