package model

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
)

type fp = fixedpoint.FixedPoint

// Checkpoint records the share price and cohort volumes at one checkpoint
// time.
type Checkpoint struct {
	SharePrice      fp `json:"share_price"`
	LongBaseVolume  fp `json:"long_base_volume"`
	ShortBaseVolume fp `json:"short_base_volume"`
	LongSharePrice  fp `json:"long_share_price"`
}

func (c Checkpoint) add(d Checkpoint) Checkpoint {
	return Checkpoint{
		SharePrice:      c.SharePrice.Add(d.SharePrice),
		LongBaseVolume:  c.LongBaseVolume.Add(d.LongBaseVolume),
		ShortBaseVolume: c.ShortBaseVolume.Add(d.ShortBaseVolume),
		LongSharePrice:  c.LongSharePrice.Add(d.LongSharePrice),
	}
}

// MarketState holds the reserves and accounting of one pool. Base
// denominated fields are in base units except ShareReserves, which is in
// vault shares.
type MarketState struct {
	ShareReserves fp `json:"share_reserves"`
	BondReserves  fp `json:"bond_reserves"`
	LPTotalSupply fp `json:"lp_total_supply"`
	BaseBuffer    fp `json:"base_buffer"`
	BondBuffer    fp `json:"bond_buffer"`

	SharePrice     fp `json:"share_price"`
	InitSharePrice fp `json:"init_share_price"`

	CurveFeeMultiple      fp `json:"curve_fee_multiple"`
	FlatFeeMultiple       fp `json:"flat_fee_multiple"`
	GovernanceFeeMultiple fp `json:"governance_fee_multiple"`
	GovFeesAccrued        fp `json:"gov_fees_accrued"`

	LongsOutstanding         fp `json:"longs_outstanding"`
	ShortsOutstanding        fp `json:"shorts_outstanding"`
	LongAverageMaturityTime  fp `json:"long_average_maturity_time"`
	ShortAverageMaturityTime fp `json:"short_average_maturity_time"`
	LongBaseVolume           fp `json:"long_base_volume"`
	ShortBaseVolume          fp `json:"short_base_volume"`

	CheckpointDuration fp                  `json:"checkpoint_duration"`
	Checkpoints        TimeMap[Checkpoint] `json:"checkpoints"`
	TotalSupplyLongs   TimeMap[fp]         `json:"total_supply_longs"`
	TotalSupplyShorts  TimeMap[fp]         `json:"total_supply_shorts"`

	TotalSupplyWithdrawShares     fp `json:"total_supply_withdraw_shares"`
	WithdrawSharesReadyToWithdraw fp `json:"withdraw_shares_ready_to_withdraw"`
	WithdrawCapital               fp `json:"withdraw_capital"`
	WithdrawInterest              fp `json:"withdraw_interest"`
}

// MarketDeltas is the additive change produced by one market action. DBase
// is in base units and is converted to shares at the current share price
// when applied; DShares moves the share reserves directly.
type MarketDeltas struct {
	DBase       fp `json:"d_base"`
	DShares     fp `json:"d_shares"`
	DBonds      fp `json:"d_bonds"`
	DLPSupply   fp `json:"d_lp_total_supply"`
	DBaseBuffer fp `json:"d_base_buffer"`
	DBondBuffer fp `json:"d_bond_buffer"`
	DSharePrice fp `json:"d_share_price"`
	DGovFees    fp `json:"d_gov_fees_accrued"`

	LongsOutstanding         fp `json:"longs_outstanding"`
	ShortsOutstanding        fp `json:"shorts_outstanding"`
	LongAverageMaturityTime  fp `json:"long_average_maturity_time"`
	ShortAverageMaturityTime fp `json:"short_average_maturity_time"`
	LongBaseVolume           fp `json:"long_base_volume"`
	ShortBaseVolume          fp `json:"short_base_volume"`

	TotalSupplyWithdrawShares     fp `json:"total_supply_withdraw_shares"`
	WithdrawSharesReadyToWithdraw fp `json:"withdraw_shares_ready_to_withdraw"`
	WithdrawCapital               fp `json:"withdraw_capital"`
	WithdrawInterest              fp `json:"withdraw_interest"`

	Checkpoints       TimeMap[Checkpoint] `json:"checkpoints"`
	TotalSupplyLongs  TimeMap[fp]         `json:"total_supply_longs"`
	TotalSupplyShorts TimeMap[fp]         `json:"total_supply_shorts"`
}

// AddCheckpoint accumulates a per-checkpoint delta.
func (d *MarketDeltas) AddCheckpoint(t fp, c Checkpoint) {
	d.Checkpoints.Set(t, d.Checkpoints.Get(t).add(c))
}

// AddLongSupply accumulates a change to the long supply minted at t.
func (d *MarketDeltas) AddLongSupply(t, amount fp) {
	d.TotalSupplyLongs.Set(t, d.TotalSupplyLongs.Get(t).Add(amount))
}

// AddShortSupply accumulates a change to the short supply minted at t.
func (d *MarketDeltas) AddShortSupply(t, amount fp) {
	d.TotalSupplyShorts.Set(t, d.TotalSupplyShorts.Get(t).Add(amount))
}

// Merge folds o into d field by field.
func (d *MarketDeltas) Merge(o MarketDeltas) {
	d.DBase = d.DBase.Add(o.DBase)
	d.DShares = d.DShares.Add(o.DShares)
	d.DBonds = d.DBonds.Add(o.DBonds)
	d.DLPSupply = d.DLPSupply.Add(o.DLPSupply)
	d.DBaseBuffer = d.DBaseBuffer.Add(o.DBaseBuffer)
	d.DBondBuffer = d.DBondBuffer.Add(o.DBondBuffer)
	d.DSharePrice = d.DSharePrice.Add(o.DSharePrice)
	d.DGovFees = d.DGovFees.Add(o.DGovFees)
	d.LongsOutstanding = d.LongsOutstanding.Add(o.LongsOutstanding)
	d.ShortsOutstanding = d.ShortsOutstanding.Add(o.ShortsOutstanding)
	d.LongAverageMaturityTime = d.LongAverageMaturityTime.Add(o.LongAverageMaturityTime)
	d.ShortAverageMaturityTime = d.ShortAverageMaturityTime.Add(o.ShortAverageMaturityTime)
	d.LongBaseVolume = d.LongBaseVolume.Add(o.LongBaseVolume)
	d.ShortBaseVolume = d.ShortBaseVolume.Add(o.ShortBaseVolume)
	d.TotalSupplyWithdrawShares = d.TotalSupplyWithdrawShares.Add(o.TotalSupplyWithdrawShares)
	d.WithdrawSharesReadyToWithdraw = d.WithdrawSharesReadyToWithdraw.Add(o.WithdrawSharesReadyToWithdraw)
	d.WithdrawCapital = d.WithdrawCapital.Add(o.WithdrawCapital)
	d.WithdrawInterest = d.WithdrawInterest.Add(o.WithdrawInterest)
	o.Checkpoints.Range(func(t fp, c Checkpoint) bool {
		d.AddCheckpoint(t, c)
		return true
	})
	o.TotalSupplyLongs.Range(func(t, v fp) bool {
		d.AddLongSupply(t, v)
		return true
	})
	o.TotalSupplyShorts.Range(func(t, v fp) bool {
		d.AddShortSupply(t, v)
		return true
	})
}

// ApplyDelta adds d to the state. DBase is divided by the share price before
// it is added to ShareReserves, so the share price must be non-zero when
// DBase is. Arithmetic failures are returned as *fixedpoint.Error.
func (s *MarketState) ApplyDelta(d MarketDeltas) (err error) {
	defer fixedpoint.Recover(&err)

	next := s.Copy()
	if !d.DBase.IsZero() {
		next.ShareReserves = next.ShareReserves.Add(d.DBase.Div(next.SharePrice))
	}
	next.ShareReserves = next.ShareReserves.Add(d.DShares)
	next.BondReserves = next.BondReserves.Add(d.DBonds)
	next.LPTotalSupply = next.LPTotalSupply.Add(d.DLPSupply)
	next.BaseBuffer = next.BaseBuffer.Add(d.DBaseBuffer)
	next.BondBuffer = next.BondBuffer.Add(d.DBondBuffer)
	next.SharePrice = next.SharePrice.Add(d.DSharePrice)
	next.GovFeesAccrued = next.GovFeesAccrued.Add(d.DGovFees)
	next.LongsOutstanding = next.LongsOutstanding.Add(d.LongsOutstanding)
	next.ShortsOutstanding = next.ShortsOutstanding.Add(d.ShortsOutstanding)
	next.LongAverageMaturityTime = next.LongAverageMaturityTime.Add(d.LongAverageMaturityTime)
	next.ShortAverageMaturityTime = next.ShortAverageMaturityTime.Add(d.ShortAverageMaturityTime)
	next.LongBaseVolume = next.LongBaseVolume.Add(d.LongBaseVolume)
	next.ShortBaseVolume = next.ShortBaseVolume.Add(d.ShortBaseVolume)
	next.TotalSupplyWithdrawShares = next.TotalSupplyWithdrawShares.Add(d.TotalSupplyWithdrawShares)
	next.WithdrawSharesReadyToWithdraw = next.WithdrawSharesReadyToWithdraw.Add(d.WithdrawSharesReadyToWithdraw)
	next.WithdrawCapital = next.WithdrawCapital.Add(d.WithdrawCapital)
	next.WithdrawInterest = next.WithdrawInterest.Add(d.WithdrawInterest)
	d.Checkpoints.Range(func(t fp, c Checkpoint) bool {
		next.Checkpoints.Set(t, next.Checkpoints.Get(t).add(c))
		return true
	})
	d.TotalSupplyLongs.Range(func(t, v fp) bool {
		next.TotalSupplyLongs.Set(t, next.TotalSupplyLongs.Get(t).Add(v))
		return true
	})
	d.TotalSupplyShorts.Range(func(t, v fp) bool {
		next.TotalSupplyShorts.Set(t, next.TotalSupplyShorts.Get(t).Add(v))
		return true
	})

	*s = next
	return nil
}

// Copy returns a deep copy whose maps share nothing with s.
func (s *MarketState) Copy() MarketState {
	out := *s
	out.Checkpoints = s.Checkpoints.Clone()
	out.TotalSupplyLongs = s.TotalSupplyLongs.Clone()
	out.TotalSupplyShorts = s.TotalSupplyShorts.Clone()
	return out
}

// NegativeFields lists the monetary fields that are below zero.
func (s *MarketState) NegativeFields() []string {
	var out []string
	check := func(name string, v fp) {
		if v.IsNegative() || v.IsNaN() {
			out = append(out, name)
		}
	}
	check("share_reserves", s.ShareReserves)
	check("bond_reserves", s.BondReserves)
	check("lp_total_supply", s.LPTotalSupply)
	check("base_buffer", s.BaseBuffer)
	check("bond_buffer", s.BondBuffer)
	check("share_price", s.SharePrice)
	check("gov_fees_accrued", s.GovFeesAccrued)
	check("longs_outstanding", s.LongsOutstanding)
	check("shorts_outstanding", s.ShortsOutstanding)
	check("long_base_volume", s.LongBaseVolume)
	check("short_base_volume", s.ShortBaseVolume)
	check("total_supply_withdraw_shares", s.TotalSupplyWithdrawShares)
	check("withdraw_shares_ready_to_withdraw", s.WithdrawSharesReadyToWithdraw)
	check("withdraw_capital", s.WithdrawCapital)
	check("withdraw_interest", s.WithdrawInterest)
	return out
}
