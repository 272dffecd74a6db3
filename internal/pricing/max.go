package pricing

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// maxTradeIterations bounds the bisection. Step sizes run 1/2 .. 1/2^25.
const maxTradeIterations = 25

// bisect searches for the largest fraction in (0, 1] that try accepts.
// It starts at 1, steps down on rejection and back up on acceptance, and
// returns the last accepted candidate; it never fails to terminate.
func bisect(try func(pct fp) (a, b fp, ok bool)) (fp, fp) {
	var bestA, bestB fp
	pct := fixedpoint.One
	step := fixedpoint.One
	two := fixedpoint.FromInt(2)
	for i := 0; i < maxTradeIterations; i++ {
		step = step.Div(two)
		a, b, ok := try(pct)
		if !ok {
			pct = pct.Sub(step)
			continue
		}
		bestA, bestB = a, b
		if pct.Eq(fixedpoint.One) {
			break
		}
		pct = pct.Add(step)
	}
	return bestA, bestB
}

// solvent reports whether a post-trade state can still cover its buffers
// and prices at a non-negative rate.
func solvent(post *model.MarketState, remaining hypertime.StretchedTime) bool {
	if post.ShareReserves.IsNegative() || post.BondReserves.Lt(post.BondBuffer) {
		return false
	}
	if post.ShareReserves.Mul(post.SharePrice).Lt(post.BaseBuffer) {
		return false
	}
	apr := aprFromSpotPrice(spotPrice(post, remaining), remaining)
	return !apr.IsNaN() && !apr.IsNegative()
}

// GetMaxLong returns the largest long, as base paid and bonds received,
// that keeps the pool solvent.
func GetMaxLong(m Model, state *model.MarketState, remaining hypertime.StretchedTime) (base, bonds fp, err error) {
	defer fixedpoint.Recover(&err)

	available := state.BondReserves.Sub(state.BondBuffer)
	if !available.IsPositive() {
		return fixedpoint.Zero, fixedpoint.Zero, nil
	}
	base, bonds = bisect(func(pct fp) (a, b fp, feasible bool) {
		err := fixedpoint.Try(func() {
			in, err := m.CalcInGivenOut(model.Bond(available.Mul(pct)), state, remaining)
			if err != nil || !in.Breakdown.WithFee.IsPositive() {
				return
			}
			out, err := m.CalcOutGivenIn(model.Base(in.Breakdown.WithFee), state, remaining)
			if err != nil || state.BondReserves.Lt(out.Breakdown.WithFee) {
				return
			}
			post := state.Copy()
			if post.ApplyDelta(model.MarketDeltas{
				DBase:       out.Market.DBase,
				DBonds:      out.Market.DBonds,
				DBaseBuffer: out.Breakdown.WithFee,
			}) != nil {
				return
			}
			a, b = in.Breakdown.WithFee, out.Breakdown.WithFee
			feasible = solvent(&post, remaining.FullTerm()) && b.IsPositive()
		})
		return a, b, feasible && err == nil
	})
	return base, bonds, nil
}

// GetMaxShort returns the largest short, as the trader's maximum loss in
// base and bonds shorted, that keeps the pool solvent.
func GetMaxShort(m Model, state *model.MarketState, remaining hypertime.StretchedTime) (base, bonds fp, err error) {
	defer fixedpoint.Recover(&err)

	p := spotPrice(state, remaining.FullTerm())
	available := state.ShareReserves.Mul(state.SharePrice).Sub(state.BaseBuffer)
	if !available.IsPositive() || p.IsNaN() || !p.IsPositive() {
		return fixedpoint.Zero, fixedpoint.Zero, nil
	}
	upper := available.Div(p)
	bonds, base = bisect(func(pct fp) (b, loss fp, feasible bool) {
		err := fixedpoint.Try(func() {
			b = upper.Mul(pct)
			out, err := m.CalcOutGivenIn(model.Bond(b), state, remaining)
			if err != nil {
				return
			}
			post := state.Copy()
			if post.ApplyDelta(model.MarketDeltas{
				DBase:       out.Market.DBase,
				DBonds:      out.Market.DBonds,
				DBondBuffer: b,
			}) != nil {
				return
			}
			loss = b.Sub(out.Breakdown.WithFee)
			feasible = solvent(&post, remaining.FullTerm()) && b.IsPositive()
		})
		return b, loss, feasible && err == nil
	})
	return base, bonds, nil
}
