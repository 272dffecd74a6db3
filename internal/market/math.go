package market

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// weightedAverage folds delta with weight deltaWeight into avg, which
// carries totalWeight. Removing the whole weight collapses to zero.
func weightedAverage(avg, totalWeight, delta, deltaWeight fp, adding bool) fp {
	if adding {
		sum := totalWeight.Add(deltaWeight)
		if sum.IsZero() {
			return fixedpoint.Zero
		}
		return totalWeight.Mul(avg).Add(deltaWeight.Mul(delta)).Div(sum)
	}
	if totalWeight.Le(deltaWeight) {
		return fixedpoint.Zero
	}
	return totalWeight.Mul(avg).Sub(deltaWeight.Mul(delta)).Div(totalWeight.Sub(deltaWeight))
}

// baseVolume backs the flat leg out of a trade: (base - (1-t)·bonds) / t.
func baseVolume(base, bonds, t fp) fp {
	if t.IsZero() {
		return fixedpoint.Zero
	}
	return base.Sub(fixedpoint.One.Sub(t).Mul(bonds)).Div(t)
}

// shortInterest is the variable interest, in shares, earned on bonds since
// openPrice: b·(closePrice - openPrice)/(openPrice·c).
func shortInterest(bonds, openPrice, closePrice, c fp) fp {
	if !closePrice.Gt(openPrice) {
		return fixedpoint.Zero
	}
	return bonds.Mul(closePrice.Sub(openPrice)).Div(openPrice.Mul(c))
}

// shortProceeds is what a short is owed, in shares, after paying
// shareAmount: max(b·closePrice/(openPrice·c) - shareAmount, 0).
func shortProceeds(bonds, shareAmount, openPrice, closePrice, c fp) fp {
	owed := bonds.Mul(closePrice).Div(openPrice.Mul(c))
	return fixedpoint.Max(owed.Sub(shareAmount), fixedpoint.Zero)
}

// updateReserves moves the share reserves by dz and scales the bond
// reserves with them so the spot price is unchanged.
func updateReserves(z, y, dz fp) (dShares, dBonds fp) {
	if dz.IsZero() || z.IsZero() {
		return dz, fixedpoint.Zero
	}
	zNext := z.Add(dz)
	return dz, y.Mul(zNext).Div(z).Sub(y)
}

// freed is margin released to the withdrawal pool, in shares.
type freed struct {
	ready, capital, interest fp
}

// freeMargin releases up to maxReady withdrawal shares still waiting on
// open positions, scaling capital and interest down if fewer are waiting.
func freeMargin(s *model.MarketState, maxReady, capital, interest fp) freed {
	waiting := s.TotalSupplyWithdrawShares.Sub(s.WithdrawSharesReadyToWithdraw)
	if !waiting.IsPositive() || !maxReady.IsPositive() {
		return freed{ready: fixedpoint.Zero, capital: fixedpoint.Zero, interest: fixedpoint.Zero}
	}
	if maxReady.Gt(waiting) {
		scale := waiting.Div(maxReady)
		capital = capital.Mul(scale)
		interest = interest.Mul(scale)
		maxReady = waiting
	}
	return freed{ready: maxReady, capital: capital, interest: interest}
}

func (f freed) deltas(d *model.MarketDeltas) {
	d.WithdrawSharesReadyToWithdraw = d.WithdrawSharesReadyToWithdraw.Add(f.ready)
	d.WithdrawCapital = d.WithdrawCapital.Add(f.capital)
	d.WithdrawInterest = d.WithdrawInterest.Add(f.interest)
}

func (f freed) total() fp { return f.capital.Add(f.interest) }

// proportion is part of volume pro rata to amount out of supply.
func proportion(volume, amount, supply fp) fp {
	if !supply.IsPositive() {
		return fixedpoint.Zero
	}
	return fixedpoint.Min(volume.Mul(amount).Div(supply), volume)
}
