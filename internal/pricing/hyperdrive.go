package pricing

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// Hyperdrive splits a trade by the normalized time remaining. The matured
// fraction (1-t) is redeemed 1:1 and pays only the flat fee; the rest is
// priced by the YieldSpace curve over a full term, against reserves that
// already reflect the flat leg.
type Hyperdrive struct {
	common
	curve YieldSpace
}

func NewHyperdrive(cfg Config) Hyperdrive {
	return Hyperdrive{common: common{cfg: cfg}, curve: NewYieldSpace(cfg)}
}

func (Hyperdrive) ModelName() string { return "Hyperdrive" }
func (Hyperdrive) ModelType() string { return "hyperdrive" }

type split struct {
	flat, curveAmount fp
	flatFee, govFlat  fp
	curveState        model.MarketState
	fullTerm          hypertime.StretchedTime
}

// splitTrade computes the flat leg and moves the reserves by it. sharesOut
// is true when the flat leg takes shares out of the pool.
func (m Hyperdrive) splitTrade(amount fp, state *model.MarketState, remaining hypertime.StretchedTime, sharesOut bool) split {
	nt := remaining.NormalizedTime()
	s := split{
		flat:        amount.Mul(fixedpoint.One.Sub(nt)),
		curveAmount: amount.Mul(nt),
		curveState:  *state,
		fullTerm:    remaining.FullTerm(),
	}
	dz := s.flat.Div(state.SharePrice)
	if sharesOut {
		s.curveState.ShareReserves = state.ShareReserves.Sub(dz)
		s.curveState.BondReserves = state.BondReserves.Add(s.flat)
	} else {
		s.curveState.ShareReserves = state.ShareReserves.Add(dz)
		s.curveState.BondReserves = state.BondReserves.Sub(s.flat)
	}
	s.flatFee = s.flat.Mul(state.FlatFeeMultiple)
	s.govFlat = s.flatFee.Mul(state.GovernanceFeeMultiple)
	return s
}

func (s split) breakdown(curve TradeBreakdown, flatWithFee fp) TradeBreakdown {
	return TradeBreakdown{
		WithoutFeeOrSlippage: s.flat.Add(curve.WithoutFeeOrSlippage),
		WithoutFee:           s.flat.Add(curve.WithoutFee),
		WithFee:              flatWithFee.Add(curve.WithFee),
		CurveFee:             curve.CurveFee,
		GovCurveFee:          curve.GovCurveFee,
		FlatFee:              s.flatFee,
		GovFlatFee:           s.govFlat,
	}
}

// CalcInGivenOut prices receiving out. Fees on both legs add to the amount
// paid.
func (m Hyperdrive) CalcInGivenOut(out model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (res TradeResult, err error) {
	if err := m.CheckInputAssertions(out, state, remaining); err != nil {
		return TradeResult{}, err
	}
	defer fixedpoint.Recover(&err)

	s := m.splitTrade(out.Amount, state, remaining, out.Unit == model.TokenBase)
	var curve TradeResult
	if s.curveAmount.Ge(m.cfg.WEI) {
		curve, err = m.curve.CalcInGivenOut(model.Quantity{Amount: s.curveAmount, Unit: out.Unit}, &s.curveState, s.fullTerm)
		if err != nil {
			return TradeResult{}, err
		}
	}
	flatWithFee := s.flat.Add(s.flatFee).Add(s.govFlat)

	res.Breakdown = s.breakdown(curve.Breakdown, flatWithFee)
	if out.Unit == model.TokenBase {
		res.User = TradeDeltas{DBase: out.Amount, DBonds: flatWithFee.Neg().Add(curve.User.DBonds)}
		res.Market = TradeDeltas{DBase: out.Amount.Neg(), DBonds: curve.Market.DBonds}
	} else {
		res.User = TradeDeltas{DBase: flatWithFee.Neg().Add(curve.User.DBase), DBonds: out.Amount}
		res.Market = TradeDeltas{DBase: flatWithFee.Add(curve.Market.DBase), DBonds: curve.Market.DBonds}
	}
	return res, nil
}

// CalcOutGivenIn prices paying in. Fees on both legs reduce the amount
// received.
func (m Hyperdrive) CalcOutGivenIn(in model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (res TradeResult, err error) {
	if err := m.CheckInputAssertions(in, state, remaining); err != nil {
		return TradeResult{}, err
	}
	defer fixedpoint.Recover(&err)

	s := m.splitTrade(in.Amount, state, remaining, in.Unit != model.TokenBase)
	var curve TradeResult
	if s.curveAmount.Ge(m.cfg.WEI) {
		curve, err = m.curve.CalcOutGivenIn(model.Quantity{Amount: s.curveAmount, Unit: in.Unit}, &s.curveState, s.fullTerm)
		if err != nil {
			return TradeResult{}, err
		}
	}
	flatWithFee := s.flat.Sub(s.flatFee).Sub(s.govFlat)

	res.Breakdown = s.breakdown(curve.Breakdown, flatWithFee)
	if in.Unit == model.TokenBase {
		res.User = TradeDeltas{DBase: in.Amount.Neg(), DBonds: flatWithFee.Add(curve.User.DBonds)}
		res.Market = TradeDeltas{DBase: in.Amount, DBonds: curve.Market.DBonds}
	} else {
		res.User = TradeDeltas{DBase: flatWithFee.Add(curve.User.DBase), DBonds: in.Amount.Neg()}
		res.Market = TradeDeltas{DBase: flatWithFee.Neg().Add(curve.Market.DBase), DBonds: curve.Market.DBonds}
	}
	return res, nil
}
