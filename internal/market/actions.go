package market

import (
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// defaultMaxDeposit caps a short's deposit when the caller sets no limit.
var defaultMaxDeposit = fixedpoint.FromInt(1 << 32)

// begin copies the state and creates the latest checkpoint on the copy.
func (m *Market) begin() (model.MarketState, fp, error) {
	next := m.state.Copy()
	latest := m.latestCheckpoint()
	if _, err := m.applyCheckpoint(&next, latest, next.SharePrice); err != nil {
		return model.MarketState{}, latest, err
	}
	return next, latest, nil
}

// finish applies d to next and commits it.
func (m *Market) finish(next *model.MarketState, d model.MarketDeltas) error {
	if err := next.ApplyDelta(d); err != nil {
		return err
	}
	return m.commit(next)
}

// --- Longs ---

// OpenLong spends base on bonds minted at the latest checkpoint. A zero
// minBondsOut disables the slippage check.
func (m *Market) OpenLong(base, minBondsOut fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if !initialized(&m.state) {
		return md, wd, violation("pool is not initialized")
	}
	next, latest, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	spot, err := m.spotPrice(&next)
	if err != nil {
		return md, wd, err
	}
	if limit := next.BondReserves.Mul(spot); base.Gt(limit) {
		return md, wd, violation("long of %s base exceeds %s available at spot price %s", base, limit, spot)
	}
	remaining, err := m.timeRemaining(latest)
	if err != nil {
		return md, wd, err
	}
	trade, err := m.pricing.CalcOutGivenIn(model.Base(base), &next, remaining)
	if err != nil {
		return md, wd, err
	}
	bonds := trade.User.DBonds
	if minBondsOut.IsPositive() && bonds.Lt(minBondsOut) {
		return md, wd, fmt.Errorf("%w: %s bonds out, wanted at least %s", ErrOutputLimit, bonds, minBondsOut)
	}

	maturity := latest.Add(m.term.Days)
	bv := baseVolume(base, bonds, remaining.NormalizedTime())
	cp := next.Checkpoints.Get(latest)
	longSharePrice := weightedAverage(cp.LongSharePrice, next.TotalSupplyLongs.Get(latest), next.SharePrice, bonds, true)

	md.DBase = trade.Market.DBase
	md.DBonds = trade.Market.DBonds
	md.DBaseBuffer = bonds
	md.DGovFees = trade.Breakdown.GovFees()
	md.LongsOutstanding = bonds
	md.LongBaseVolume = bv
	md.LongAverageMaturityTime = weightedAverage(next.LongAverageMaturityTime, next.LongsOutstanding, maturity, bonds, true).
		Sub(next.LongAverageMaturityTime)
	md.AddCheckpoint(latest, model.Checkpoint{
		LongBaseVolume: bv,
		LongSharePrice: longSharePrice.Sub(cp.LongSharePrice),
	})
	md.AddLongSupply(latest, bonds)

	wd.Balance = base.Neg()
	wd.FeesPaid = trade.Breakdown.Fees()
	wd.Longs.Set(latest, model.Long{Balance: bonds})

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// CloseLong sells bonds minted at mint back to the pool. Matured bonds are
// redeemed at face value against the maturity checkpoint instead.
func (m *Market) CloseLong(bonds, mint, minBaseOut fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if bonds.Lt(m.pricing.Config().WEI) {
		return md, wd, violation("expected bonds >= %s, not %s", m.pricing.Config().WEI, bonds)
	}
	next, latest, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	if mint.Add(m.term.Days).Le(latest) {
		return m.redeemLong(&next, bonds, mint, minBaseOut)
	}
	if _, err := m.applyCheckpoint(&next, mint, next.SharePrice); err != nil {
		return md, wd, err
	}
	supply := next.TotalSupplyLongs.Get(mint)
	if bonds.Gt(supply) {
		return md, wd, violation("closing %s bonds exceeds the %s minted at %s", bonds, supply, mint)
	}
	remaining, err := m.timeRemaining(mint)
	if err != nil {
		return md, wd, err
	}
	trade, err := m.pricing.CalcOutGivenIn(model.Bond(bonds), &next, remaining)
	if err != nil {
		return md, wd, err
	}
	proceeds := trade.User.DBase
	if proceeds.Lt(minBaseOut) {
		return md, wd, fmt.Errorf("%w: %s base out, wanted at least %s", ErrOutputLimit, proceeds, minBaseOut)
	}

	md.DBase = trade.Market.DBase
	md.DBonds = trade.Market.DBonds
	md.DGovFees = trade.Breakdown.GovFees()

	cp := next.Checkpoints.Get(mint)
	prop := proportion(cp.LongBaseVolume, bonds, supply)
	if openPrice := cp.LongSharePrice; openPrice.IsPositive() {
		c := next.SharePrice
		elapsed := hypertime.NormalizedElapsed(m.blockTime, mint, m.term.Days)
		withdrawal := shortProceeds(bonds, bonds.Mul(elapsed).Div(c), openPrice, c, c)
		interest := shortInterest(bonds, openPrice, c, c)
		capital := fixedpoint.Max(withdrawal.Sub(interest), fixedpoint.Zero)
		f := freeMargin(&next, bonds.Sub(prop).Div(openPrice), capital, interest)
		release(&next, &md, f)
	}
	closeLongDeltas(&next, &md, bonds, mint, m.term.Days, prop)

	wd.Balance = proceeds
	wd.FeesPaid = trade.Breakdown.Fees()
	wd.Longs.Set(mint, model.Long{Balance: bonds.Neg()})

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// redeemLong pays out matured bonds. The cohort was settled when its
// maturity checkpoint was created, so only the wallet moves.
func (m *Market) redeemLong(next *model.MarketState, bonds, mint, minBaseOut fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	maturity := mint.Add(m.term.Days)
	if err := m.checkpoint(next, maturity); err != nil {
		return md, wd, err
	}
	c := next.SharePrice
	closePrice := next.Checkpoints.Get(maturity).SharePrice
	payout := bonds.Mul(c).Div(closePrice)
	if open := next.Checkpoints.Get(mint).SharePrice; open.Gt(closePrice) {
		payout = payout.Mul(closePrice).Div(open)
	}
	if payout.Lt(minBaseOut) {
		return md, wd, fmt.Errorf("%w: %s base out, wanted at least %s", ErrOutputLimit, payout, minBaseOut)
	}
	wd.Balance = payout
	wd.Longs.Set(mint, model.Long{Balance: bonds.Neg()})
	if err := m.commit(next); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// settleLongs retires a long cohort at its maturity checkpoint. The face
// value leaves the share reserves and any margin owed to withdrawn LPs is
// moved to the withdrawal pool.
func (m *Market) settleLongs(s *model.MarketState, bonds, mint, sharePrice fp) model.MarketDeltas {
	var d model.MarketDeltas
	cp := s.Checkpoints.Get(mint)
	shareProceeds := bonds.Div(sharePrice)
	if open := cp.SharePrice; open.Gt(sharePrice) {
		shareProceeds = shareProceeds.Mul(sharePrice).Div(open)
	}
	prop := cp.LongBaseVolume
	f := freed{ready: fixedpoint.Zero, capital: fixedpoint.Zero, interest: fixedpoint.Zero}
	if openPrice := cp.LongSharePrice; openPrice.IsPositive() {
		withdrawal := shortProceeds(bonds, shareProceeds, openPrice, sharePrice, sharePrice)
		interest := shortInterest(bonds, openPrice, sharePrice, sharePrice)
		capital := fixedpoint.Max(withdrawal.Sub(interest), fixedpoint.Zero)
		f = freeMargin(s, bonds.Sub(prop).Div(openPrice), capital, interest)
	}
	f.deltas(&d)
	d.DShares, d.DBonds = updateReserves(s.ShareReserves, s.BondReserves, shareProceeds.Neg().Sub(f.total()))
	closeLongDeltas(s, &d, bonds, mint, m.term.Days, prop)
	return d
}

// closeLongDeltas records the bookkeeping for bonds leaving the mint cohort.
func closeLongDeltas(s *model.MarketState, d *model.MarketDeltas, bonds, mint, term, prop fp) {
	avg := s.LongAverageMaturityTime
	d.DBaseBuffer = d.DBaseBuffer.Sub(bonds)
	d.LongsOutstanding = d.LongsOutstanding.Sub(bonds)
	d.LongAverageMaturityTime = weightedAverage(avg, s.LongsOutstanding, mint.Add(term), bonds, false).Sub(avg)
	d.LongBaseVolume = d.LongBaseVolume.Sub(fixedpoint.Min(prop, s.LongBaseVolume))
	d.AddCheckpoint(mint, model.Checkpoint{LongBaseVolume: fixedpoint.Min(prop, s.Checkpoints.Get(mint).LongBaseVolume).Neg()})
	d.AddLongSupply(mint, bonds.Neg())
}

// --- Shorts ---

// OpenShort sells bonds to the pool and charges the trader the deposit
// that covers the bonds' face value. A zero maxDeposit means 2^32 base.
func (m *Market) OpenShort(bonds, maxDeposit fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if !initialized(&m.state) {
		return md, wd, violation("pool is not initialized")
	}
	next, latest, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	remaining, err := m.timeRemaining(latest)
	if err != nil {
		return md, wd, err
	}
	trade, err := m.pricing.CalcOutGivenIn(model.Bond(bonds), &next, remaining)
	if err != nil {
		return md, wd, err
	}

	c := next.SharePrice
	openPrice := next.Checkpoints.Get(latest).SharePrice
	elapsed := hypertime.NormalizedElapsed(m.blockTime, latest, m.term.Days)
	shareProceeds := bonds.Mul(elapsed).Div(c).Add(trade.Market.DBase.Div(c).Abs())
	deposit := shortProceeds(bonds, shareProceeds, openPrice, c, c).Mul(c)
	limit := maxDeposit
	if !limit.IsPositive() {
		limit = defaultMaxDeposit
	}
	if deposit.Gt(limit) {
		return md, wd, fmt.Errorf("%w: deposit %s exceeds %s", ErrOutputLimit, deposit, limit)
	}

	bv := baseVolume(trade.User.DBase, bonds, fixedpoint.One)
	avg := next.ShortAverageMaturityTime
	md.DBase = trade.Market.DBase
	md.DBonds = trade.Market.DBonds
	md.DBondBuffer = bonds
	md.DGovFees = trade.Breakdown.GovFees()
	md.ShortsOutstanding = bonds
	md.ShortBaseVolume = bv
	md.ShortAverageMaturityTime = weightedAverage(avg, next.ShortsOutstanding, latest.Add(m.term.Days), bonds, true).Sub(avg)
	md.AddCheckpoint(latest, model.Checkpoint{ShortBaseVolume: bv})
	md.AddShortSupply(latest, bonds)

	wd.Balance = deposit.Neg()
	wd.FeesPaid = trade.Breakdown.Fees()
	wd.Shorts.Set(latest, model.Short{Balance: bonds, OpenSharePrice: openPrice})

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// CloseShort buys back bonds shorted at mint. openSharePrice is the share
// price the short was opened at; zero falls back to the mint checkpoint.
func (m *Market) CloseShort(bonds, mint, openSharePrice, minBaseOut fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	if bonds.Lt(m.pricing.Config().WEI) {
		return md, wd, violation("expected bonds >= %s, not %s", m.pricing.Config().WEI, bonds)
	}
	next, latest, err := m.begin()
	if err != nil {
		return md, wd, err
	}
	if !openSharePrice.IsPositive() {
		openSharePrice = next.Checkpoints.Get(mint).SharePrice
	}
	if mint.Add(m.term.Days).Le(latest) {
		return m.redeemShort(&next, bonds, mint, openSharePrice, minBaseOut)
	}
	if _, err := m.applyCheckpoint(&next, mint, next.SharePrice); err != nil {
		return md, wd, err
	}
	if !openSharePrice.IsPositive() {
		openSharePrice = next.Checkpoints.Get(mint).SharePrice
	}
	supply := next.TotalSupplyShorts.Get(mint)
	if bonds.Gt(supply) {
		return md, wd, violation("closing %s shorts exceeds the %s minted at %s", bonds, supply, mint)
	}
	if free := next.BondReserves.Sub(next.BondBuffer); bonds.Gt(free) {
		return md, wd, violation("closing %s shorts exceeds the %s free bond reserves", bonds, free)
	}
	remaining, err := m.timeRemaining(mint)
	if err != nil {
		return md, wd, err
	}
	trade, err := m.pricing.CalcInGivenOut(model.Bond(bonds), &next, remaining)
	if err != nil {
		return md, wd, err
	}

	c := next.SharePrice
	cost := trade.Breakdown.WithFee
	payout := fixedpoint.Max(c.Div(openSharePrice).Mul(bonds).Sub(cost), fixedpoint.Zero)
	if payout.Lt(minBaseOut) {
		return md, wd, fmt.Errorf("%w: %s base out, wanted at least %s", ErrOutputLimit, payout, minBaseOut)
	}

	md.DBase = trade.Market.DBase
	md.DBonds = trade.Market.DBonds
	md.DGovFees = trade.Breakdown.GovFees()

	prop := proportion(next.Checkpoints.Get(mint).ShortBaseVolume, bonds, supply)
	interest := fixedpoint.Max(cost.Sub(prop), fixedpoint.Zero).Div(c)
	f := freeMargin(&next, prop.Div(openSharePrice), cost.Div(c).Sub(interest), interest)
	release(&next, &md, f)
	closeShortDeltas(&next, &md, bonds, mint, m.term.Days, prop)

	wd.Balance = payout
	wd.FeesPaid = trade.Breakdown.Fees()
	wd.Shorts.Set(mint, model.Short{Balance: bonds.Neg(), OpenSharePrice: openSharePrice})

	if err := m.finish(&next, md); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// redeemShort pays a matured short the interest its deposit earned.
func (m *Market) redeemShort(next *model.MarketState, bonds, mint, openSharePrice, minBaseOut fp) (md model.MarketDeltas, wd model.WalletDeltas, err error) {
	maturity := mint.Add(m.term.Days)
	if err := m.checkpoint(next, maturity); err != nil {
		return md, wd, err
	}
	if !openSharePrice.IsPositive() {
		return md, wd, violation("short minted at %s has no open share price", mint)
	}
	c := next.SharePrice
	closePrice := next.Checkpoints.Get(maturity).SharePrice
	payout := fixedpoint.Max(bonds.Mul(c).Div(openSharePrice).Sub(bonds.Mul(c).Div(closePrice)), fixedpoint.Zero)
	if payout.Lt(minBaseOut) {
		return md, wd, fmt.Errorf("%w: %s base out, wanted at least %s", ErrOutputLimit, payout, minBaseOut)
	}
	wd.Balance = payout
	wd.Shorts.Set(mint, model.Short{Balance: bonds.Neg(), OpenSharePrice: openSharePrice})
	if err := m.commit(next); err != nil {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	return md, wd, nil
}

// settleShorts retires a short cohort at its maturity checkpoint. The
// shorts' face value enters the share reserves, less what is owed to the
// withdrawal pool.
func (m *Market) settleShorts(s *model.MarketState, bonds, mint, sharePrice fp) model.MarketDeltas {
	var d model.MarketDeltas
	cp := s.Checkpoints.Get(mint)
	sharePayment := bonds.Div(sharePrice)
	prop := cp.ShortBaseVolume
	f := freed{ready: fixedpoint.Zero, capital: fixedpoint.Zero, interest: fixedpoint.Zero}
	if open := cp.SharePrice; open.IsPositive() {
		interest := fixedpoint.Max(bonds.Sub(prop), fixedpoint.Zero).Div(sharePrice)
		f = freeMargin(s, prop.Div(open), sharePayment.Sub(interest), interest)
	}
	f.deltas(&d)
	d.DShares, d.DBonds = updateReserves(s.ShareReserves, s.BondReserves, sharePayment.Sub(f.total()))
	closeShortDeltas(s, &d, bonds, mint, m.term.Days, prop)
	return d
}

// closeShortDeltas records the bookkeeping for shorts leaving the mint
// cohort.
func closeShortDeltas(s *model.MarketState, d *model.MarketDeltas, bonds, mint, term, prop fp) {
	avg := s.ShortAverageMaturityTime
	d.DBondBuffer = d.DBondBuffer.Sub(bonds)
	d.ShortsOutstanding = d.ShortsOutstanding.Sub(bonds)
	d.ShortAverageMaturityTime = weightedAverage(avg, s.ShortsOutstanding, mint.Add(term), bonds, false).Sub(avg)
	d.ShortBaseVolume = d.ShortBaseVolume.Sub(fixedpoint.Min(prop, s.ShortBaseVolume))
	d.AddCheckpoint(mint, model.Checkpoint{ShortBaseVolume: fixedpoint.Min(prop, s.Checkpoints.Get(mint).ShortBaseVolume).Neg()})
	d.AddShortSupply(mint, bonds.Neg())
}

// release moves freed margin out of the reserves left after the trade in d
// and into the withdrawal pool.
func release(s *model.MarketState, d *model.MarketDeltas, f freed) {
	if !f.ready.IsPositive() {
		return
	}
	f.deltas(d)
	z := s.ShareReserves.Add(d.DBase.Div(s.SharePrice)).Add(d.DShares)
	y := s.BondReserves.Add(d.DBonds)
	dz, dy := updateReserves(z, y, f.total().Neg())
	d.DShares = d.DShares.Add(dz)
	d.DBonds = d.DBonds.Add(dy)
}
