package market

import (
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// Initialize seeds an empty pool with contribution base and sizes the bond
// reserves so the pool prices at targetAPR. The contributor receives
// c·z + y LP tokens.
func (m *Market) Initialize(contribution, targetAPR fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if initialized(&m.state) {
		return md, wd, violation("pool already initialized with %s shares and %s bonds", m.state.ShareReserves, m.state.BondReserves)
	}
	if wei := m.pricing.Config().WEI; contribution.Lt(wei) {
		return md, wd, violation("expected contribution >= %s, not %s", wei, contribution)
	}
	if !targetAPR.IsPositive() {
		return md, wd, fmt.Errorf("%w: target apr %s must be positive", ErrInvalidArgument, targetAPR)
	}

	next := m.state.Copy()
	c := next.SharePrice
	z := contribution.Div(c)
	seeded := next.Copy()
	seeded.ShareReserves = z
	y, err := m.pricing.CalcInitialBondReserves(targetAPR, &seeded, m.term)
	if err != nil {
		return md, wd, err
	}
	lp := c.Mul(z).Add(y)

	md.DBase = contribution
	md.DBonds = y
	md.DLPSupply = lp
	if err := next.ApplyDelta(md); err != nil {
		return model.MarketDeltas{}, wd, err
	}
	if _, err := m.applyCheckpoint(&next, m.latestCheckpoint(), c); err != nil {
		return model.MarketDeltas{}, wd, err
	}

	wd.Balance = contribution.Neg()
	wd.LPTokens = lp
	if err := m.commit(&next); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// AddLiquidity deposits base at the current fixed rate. New LP tokens are
// minted against share reserves adjusted for open positions.
func (m *Market) AddLiquidity(base fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if wei := m.pricing.Config().WEI; base.Lt(wei) {
		return md, wd, fmt.Errorf("%w: expected contribution >= %s, not %s", ErrInvalidArgument, wei, base)
	}
	next, _, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	rate, err := m.fixedAPR(&next)
	if err != nil {
		return md, wd, err
	}
	if rate.IsNaN() {
		rate = fixedpoint.Zero
	}
	res, err := m.pricing.CalcLPOutGivenTokensIn(base, rate, &next, m.blockTime, m.term)
	if err != nil {
		return md, wd, err
	}

	md.DShares = res.DShares
	md.DBonds = res.DBonds
	md.DLPSupply = res.LPTokens

	wd.Balance = base.Neg()
	wd.LPTokens = res.LPTokens

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// RemoveLiquidity burns lp tokens. The free share of reserves is paid out
// now; the capital backing open longs is owed as withdrawal shares.
func (m *Market) RemoveLiquidity(lp fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if wei := m.pricing.Config().WEI; lp.Lt(wei) {
		return md, wd, fmt.Errorf("%w: expected lp tokens >= %s, not %s", ErrInvalidArgument, wei, lp)
	}
	next, _, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	res, err := m.pricing.CalcTokensOutGivenLPIn(lp, &next)
	if err != nil {
		return md, wd, err
	}

	md.DShares = res.DShares.Neg()
	md.DBonds = res.DBonds.Neg()
	md.DLPSupply = lp.Neg()
	md.TotalSupplyWithdrawShares = res.WithdrawShares

	wd.Balance = res.DBase
	wd.LPTokens = lp.Neg()
	wd.WithdrawShares = res.WithdrawShares

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// RedeemWithdrawShares pays out withdrawal shares whose margin has been
// freed by closed or matured positions. Only payment in base is supported.
func (m *Market) RedeemWithdrawShares(shares, minOutput fp, asUnderlying bool) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if !asUnderlying {
		return md, wd, fmt.Errorf("%w: withdrawal shares can only be redeemed for base", ErrUnsupportedOption)
	}
	if wei := m.pricing.Config().WEI; shares.Lt(wei) {
		return md, wd, violation("expected withdrawal shares >= %s, not %s", wei, shares)
	}
	next, _, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	ready := next.WithdrawSharesReadyToWithdraw
	if shares.Gt(ready) {
		return md, wd, violation("redeeming %s withdrawal shares but only %s are ready", shares, ready)
	}
	margin := shares.Mul(next.WithdrawCapital).Div(ready)
	interest := shares.Mul(next.WithdrawInterest).Div(ready)
	out := margin.Add(interest).Mul(next.SharePrice)
	if out.Lt(minOutput) {
		return md, wd, fmt.Errorf("%w: %s base out, wanted at least %s", ErrOutputLimit, out, minOutput)
	}

	md.WithdrawSharesReadyToWithdraw = shares.Neg()
	md.WithdrawCapital = margin.Neg()
	md.WithdrawInterest = interest.Neg()
	md.TotalSupplyWithdrawShares = shares.Neg()

	wd.Balance = out
	wd.WithdrawShares = shares.Neg()

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}
