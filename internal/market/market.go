// Package market implements the Hyperdrive pool state machine: pool
// initialization, longs, shorts, liquidity, checkpoints and the automatic
// settlement of matured cohorts.
//
// Every operation works on a copy of the state and commits it only after
// all checks pass, so a failed call leaves the pool untouched. Operations
// return the MarketDeltas they applied and the WalletDeltas the caller
// should apply to the trader's wallet. A Market serializes its own calls.
package market

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
	"github.com/atmx/hyperdrive-engine/internal/pricing"
)

type fp = fixedpoint.FixedPoint

// Config holds the parameters a pool is created with.
type Config struct {
	TermDays       fp
	CheckpointDays fp
	TimeStretch    fp

	CurveFeeMultiple      fp
	FlatFeeMultiple       fp
	GovernanceFeeMultiple fp

	InitSharePrice fp
	SharePrice     fp

	Pricing pricing.Config
}

// Validate checks the config before a pool is built from it.
func (c Config) Validate() error {
	if !c.TermDays.IsPositive() || !c.CheckpointDays.IsPositive() {
		return fmt.Errorf("%w: term %s and checkpoint duration %s must be positive", ErrInvalidConfig, c.TermDays, c.CheckpointDays)
	}
	var aligned bool
	if err := fixedpoint.Try(func() { aligned = hypertime.IsCheckpoint(c.TermDays, c.CheckpointDays) }); err != nil || !aligned {
		return fmt.Errorf("%w: term %s is not a multiple of checkpoint duration %s", ErrInvalidConfig, c.TermDays, c.CheckpointDays)
	}
	if !c.TimeStretch.IsPositive() || !c.TimeStretch.IsFinite() {
		return fmt.Errorf("%w: time stretch %s must be positive", ErrInvalidConfig, c.TimeStretch)
	}
	fees := []struct {
		name string
		v    fp
	}{
		{"curve fee", c.CurveFeeMultiple},
		{"flat fee", c.FlatFeeMultiple},
		{"governance fee", c.GovernanceFeeMultiple},
	}
	for _, f := range fees {
		if f.v.IsNegative() || f.v.Gt(fixedpoint.One) {
			return fmt.Errorf("%w: %s multiple %s must be in [0, 1]", ErrInvalidConfig, f.name, f.v)
		}
	}
	if !c.InitSharePrice.IsPositive() || !c.SharePrice.IsPositive() {
		return fmt.Errorf("%w: share prices must be positive", ErrInvalidConfig)
	}
	return nil
}

// Market is one pool. All methods are safe for concurrent use.
type Market struct {
	mu        sync.Mutex
	pricing   pricing.Model
	term      hypertime.StretchedTime
	state     model.MarketState
	blockTime fp
}

// New builds an uninitialized pool at block time zero.
func New(cfg Config, pm pricing.Model) (*Market, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	term, err := hypertime.NewStretchedTime(cfg.TermDays, cfg.TimeStretch, cfg.TermDays)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Market{
		pricing: pm,
		term:    term,
		state: model.MarketState{
			SharePrice:            cfg.SharePrice,
			InitSharePrice:        cfg.InitSharePrice,
			CurveFeeMultiple:      cfg.CurveFeeMultiple,
			FlatFeeMultiple:       cfg.FlatFeeMultiple,
			GovernanceFeeMultiple: cfg.GovernanceFeeMultiple,
			CheckpointDuration:    cfg.CheckpointDays,
		},
	}, nil
}

// Restore rebuilds a pool from a persisted state and block time.
func Restore(cfg Config, pm pricing.Model, state model.MarketState, blockTime fp) (*Market, error) {
	m, err := New(cfg, pm)
	if err != nil {
		return nil, err
	}
	m.state = state.Copy()
	m.blockTime = blockTime
	return m, nil
}

// --- Queries ---

// State returns a deep copy of the pool state.
func (m *Market) State() model.MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Copy()
}

// BlockTime is the pool clock in days.
func (m *Market) BlockTime() fp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockTime
}

// Term is the position duration.
func (m *Market) Term() hypertime.StretchedTime { return m.term }

// PricingModel names the model the pool trades against.
func (m *Market) PricingModel() pricing.Model { return m.pricing }

// Initialized reports whether the pool holds reserves.
func (m *Market) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return initialized(&m.state)
}

func initialized(s *model.MarketState) bool {
	return s.ShareReserves.IsPositive() || s.BondReserves.IsPositive()
}

// LatestCheckpointTime is the block time rounded down to the checkpoint
// duration.
func (m *Market) LatestCheckpointTime() fp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestCheckpoint()
}

func (m *Market) latestCheckpoint() fp {
	return hypertime.LatestCheckpoint(m.blockTime, m.state.CheckpointDuration)
}

// SpotPrice is the full-term bond price, or nan for an empty pool.
func (m *Market) SpotPrice() (p fp, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spotPrice(&m.state)
}

func (m *Market) spotPrice(s *model.MarketState) (fp, error) {
	if s.ShareReserves.IsZero() {
		return fixedpoint.NaN(), nil
	}
	return m.pricing.CalcSpotPriceFromReserves(s, m.term)
}

// FixedAPR is the rate implied by the spot price, or nan for an empty pool.
func (m *Market) FixedAPR() (apr fp, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixedAPR(&m.state)
}

func (m *Market) fixedAPR(s *model.MarketState) (fp, error) {
	if s.ShareReserves.IsZero() {
		return fixedpoint.NaN(), nil
	}
	return m.pricing.CalcAPRFromReserves(s, m.term)
}

// MaxTrade returns the largest long and short the pool can currently
// absorb for positions minted at the latest checkpoint.
func (m *Market) MaxTrade() (out model.MaxTrade, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	remaining, err := m.timeRemaining(m.latestCheckpoint())
	if err != nil {
		return out, err
	}
	if out.LongBase, out.LongBonds, err = pricing.GetMaxLong(m.pricing, &m.state, remaining); err != nil {
		return out, err
	}
	if out.ShortBase, out.ShortBonds, err = pricing.GetMaxShort(m.pricing, &m.state, remaining); err != nil {
		return out, err
	}
	return out, nil
}

// timeRemaining is the stretched time left on a position minted at mint.
func (m *Market) timeRemaining(mint fp) (hypertime.StretchedTime, error) {
	days, err := hypertime.DaysRemaining(m.blockTime, mint, m.term.Days)
	if err != nil {
		return hypertime.StretchedTime{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	return m.term.WithDays(days), nil
}

// --- Clock ---

// AdvanceTime moves the block clock forward. Checkpoints are created
// lazily by the next action.
func (m *Market) AdvanceTime(days fp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if days.IsNegative() || !days.IsFinite() {
		return fmt.Errorf("%w: cannot advance time by %s", ErrInvalidArgument, days)
	}
	m.blockTime = m.blockTime.Add(days)
	return nil
}

// AccrueInterest grows the share price by simple interest at apr over
// days: c' = c·(1 + apr·days/365).
func (m *Market) AccrueInterest(apr, days fp) (d model.MarketDeltas, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	next := m.state.Copy()
	c := next.SharePrice
	growth := apr.Mul(days).Div(hypertime.DaysPerYear)
	d.DSharePrice = c.Mul(growth)
	if err := next.ApplyDelta(d); err != nil {
		return model.MarketDeltas{}, err
	}
	return d, m.commit(&next)
}

// --- Checkpoints ---

// Checkpoint creates the checkpoint at t if it does not exist yet. A past
// checkpoint takes the share price of the next recorded checkpoint, or the
// current share price if none is recorded.
func (m *Market) Checkpoint(t fp) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	next := m.state.Copy()
	if err := m.checkpoint(&next, t); err != nil {
		return err
	}
	return m.commit(&next)
}

func (m *Market) checkpoint(s *model.MarketState, t fp) error {
	if !s.Checkpoints.Get(t).SharePrice.IsZero() {
		return nil
	}
	latest := m.latestCheckpoint()
	if t.IsNegative() || !hypertime.IsCheckpoint(t, s.CheckpointDuration) || t.Gt(latest) {
		return fmt.Errorf("%w: %s (latest %s, duration %s)", ErrInvalidCheckpointTime, t, latest, s.CheckpointDuration)
	}
	if t.Eq(latest) {
		_, err := m.applyCheckpoint(s, t, s.SharePrice)
		return err
	}
	price := s.SharePrice
	for next := t.Add(s.CheckpointDuration); next.Le(latest); next = next.Add(s.CheckpointDuration) {
		if sp := s.Checkpoints.Get(next).SharePrice; !sp.IsZero() {
			price = sp
			break
		}
	}
	_, err := m.applyCheckpoint(s, t, price)
	return err
}

// ApplyCheckpoint records sharePrice at t and settles the cohorts that
// mature there. It is a no-op returning the recorded price if t already
// has one or lies in the future.
func (m *Market) ApplyCheckpoint(t, sharePrice fp) (price fp, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer fixedpoint.Recover(&err)

	next := m.state.Copy()
	if price, err = m.applyCheckpoint(&next, t, sharePrice); err != nil {
		return fixedpoint.Zero, err
	}
	return price, m.commit(&next)
}

func (m *Market) applyCheckpoint(s *model.MarketState, t, sharePrice fp) (fp, error) {
	if cp := s.Checkpoints.Get(t); !cp.SharePrice.IsZero() || t.Gt(m.blockTime) {
		return cp.SharePrice, nil
	}
	var d model.MarketDeltas
	d.AddCheckpoint(t, model.Checkpoint{SharePrice: sharePrice})
	if err := s.ApplyDelta(d); err != nil {
		return fixedpoint.Zero, err
	}

	mint := t.Sub(m.term.Days)
	if longs := s.TotalSupplyLongs.Get(mint); longs.IsPositive() {
		if err := s.ApplyDelta(m.settleLongs(s, longs, mint, sharePrice)); err != nil {
			return fixedpoint.Zero, err
		}
	}
	if shorts := s.TotalSupplyShorts.Get(mint); shorts.IsPositive() {
		if err := s.ApplyDelta(m.settleShorts(s, shorts, mint, sharePrice)); err != nil {
			return fixedpoint.Zero, err
		}
	}
	return s.Checkpoints.Get(t).SharePrice, nil
}

// commit validates next and makes it the pool state.
func (m *Market) commit(next *model.MarketState) error {
	if neg := next.NegativeFields(); len(neg) > 0 {
		return violation("negative %s", strings.Join(neg, ", "))
	}
	if next.SharePrice.Lt(next.InitSharePrice) {
		slog.Warn("share price below initial share price",
			"share_price", next.SharePrice.String(),
			"init_share_price", next.InitSharePrice.String(),
		)
	}
	m.state = *next
	return nil
}
