package pricing

import (
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// CalcLPOutGivenTokensIn prices a deposit of dBase. The mint ratio uses
// share reserves adjusted by the present value of open positions so a new
// LP neither gains nor loses from trades already on the books. The bond
// reserves grow so the pool still prices at rate.
func (m common) CalcLPOutGivenTokensIn(dBase, rate fp, state *model.MarketState, now fp, term hypertime.StretchedTime) (res LiquidityResult, err error) {
	defer fixedpoint.Recover(&err)

	if dBase.Lt(m.cfg.WEI) {
		return LiquidityResult{}, violation("expected contribution >= %s, not %s", m.cfg.WEI, dBase)
	}
	c := state.SharePrice
	dz := dBase.Div(c)
	z := state.ShareReserves

	lpOut := dz
	if !z.IsZero() {
		longAdj := positionAdjustment(state.LongAverageMaturityTime, state.LongBaseVolume, state.LongsOutstanding, c, now, term)
		shortAdj := positionAdjustment(state.ShortAverageMaturityTime, state.ShortBaseVolume, state.ShortsOutstanding, c, now, term)
		lpOut = dz.Mul(state.LPTotalSupply).Div(z.Add(shortAdj).Sub(longAdj))
	}
	dBonds := initialBondReserves(z.Add(dz), rate, state, term).Sub(state.BondReserves)

	return LiquidityResult{LPTokens: lpOut, DBase: dBase, DShares: dz, DBonds: dBonds}, nil
}

// positionAdjustment is the present value in shares of one side's open
// positions: a blend of base volume and face value weighted by the
// normalized time left until the average maturity.
func positionAdjustment(avgMaturity, baseVolume, outstanding, c, now fp, term hypertime.StretchedTime) fp {
	nt := fixedpoint.Zero
	if now.Le(avgMaturity) {
		nt = avgMaturity.Sub(now).Div(term.NormalizingConstant)
	}
	return nt.Mul(baseVolume).Add(fixedpoint.One.Sub(nt).Mul(outstanding)).Div(c)
}

// CalcTokensOutGivenLPIn prices burning lpIn. Capital still backing open
// longs stays in the pool and is paid out later as withdrawal shares.
func (m common) CalcTokensOutGivenLPIn(lpIn fp, state *model.MarketState) (res LiquidityResult, err error) {
	defer fixedpoint.Recover(&err)

	if lpIn.Lt(m.cfg.WEI) {
		return LiquidityResult{}, violation("expected lp amount >= %s, not %s", m.cfg.WEI, lpIn)
	}
	if lpIn.Gt(state.LPTotalSupply) {
		return LiquidityResult{}, fmt.Errorf("%w: lp amount %s exceeds supply %s", ErrInvariantViolation, lpIn, state.LPTotalSupply)
	}
	c := state.SharePrice
	z := state.ShareReserves
	y := state.BondReserves
	fraction := lpIn.Div(state.LPTotalSupply)

	dShares := z.Sub(state.LongsOutstanding.Div(c)).Mul(fraction)
	dBonds := y.Sub(y.Mul(z.Sub(dShares)).Div(z))
	pending := state.TotalSupplyWithdrawShares.Sub(state.WithdrawSharesReadyToWithdraw)
	margin := state.LongsOutstanding.Sub(state.LongBaseVolume).Add(state.ShortBaseVolume).Sub(pending).Mul(fraction)

	return LiquidityResult{
		LPTokens:       lpIn,
		DBase:          c.Mul(dShares),
		DShares:        dShares,
		DBonds:         dBonds,
		WithdrawShares: margin.Div(c),
	}, nil
}
