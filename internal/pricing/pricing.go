// Package pricing prices trades and liquidity against a pool's reserves.
//
// Two models are provided. YieldSpace prices every trade on the curve
// k = (c/μ)·(μz)^(1-τ) + (y+s)^(1-τ). Hyperdrive splits each trade into a
// matured flat leg redeemed 1:1 and a curve leg priced by YieldSpace over
// the full term.
//
// All functions are pure: they read a MarketState snapshot and return new
// values. FixedPoint failures are recovered and returned as errors.
package pricing

import (
	"errors"
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

type fp = fixedpoint.FixedPoint

var (
	ErrInvariantViolation = errors.New("pricing: invariant violation")
	ErrUnsupportedToken   = errors.New("pricing: unsupported token type")
)

// Config carries the tolerances the assertions run with. Each pool owns
// its own copy.
type Config struct {
	WEI                   fp `json:"wei" yaml:"wei"`
	PrecisionThreshold    fp `json:"precision_threshold" yaml:"precision_threshold"`
	MaxReservesDifference fp `json:"max_reserves_difference" yaml:"max_reserves_difference"`
}

// DefaultConfig returns the reference tolerances: one raw unit, 1e10 raw
// units, and 2e10 base.
func DefaultConfig() Config {
	return Config{
		WEI:                   fixedpoint.WEI,
		PrecisionThreshold:    fixedpoint.FromRaw(10_000_000_000),
		MaxReservesDifference: fixedpoint.FromInt(20_000_000_000),
	}
}

// TradeDeltas is one side's change in base and bonds.
type TradeDeltas struct {
	DBase  fp `json:"d_base"`
	DBonds fp `json:"d_bonds"`
}

// TradeBreakdown itemizes a trade's price and fees.
type TradeBreakdown struct {
	WithoutFeeOrSlippage fp `json:"without_fee_or_slippage"`
	WithoutFee           fp `json:"without_fee"`
	WithFee              fp `json:"with_fee"`
	CurveFee             fp `json:"curve_fee"`
	GovCurveFee          fp `json:"gov_curve_fee"`
	FlatFee              fp `json:"flat_fee"`
	GovFlatFee           fp `json:"gov_flat_fee"`
}

// Fees is the trader's total fee, governance share included.
func (b TradeBreakdown) Fees() fp {
	return b.CurveFee.Add(b.GovCurveFee).Add(b.FlatFee).Add(b.GovFlatFee)
}

// GovFees is the governance share of the fees.
func (b TradeBreakdown) GovFees() fp {
	return b.GovCurveFee.Add(b.GovFlatFee)
}

// TradeResult is the outcome of one pricing call.
type TradeResult struct {
	User      TradeDeltas    `json:"user_result"`
	Market    TradeDeltas    `json:"market_result"`
	Breakdown TradeBreakdown `json:"breakdown"`
}

// LiquidityResult is the outcome of pricing an LP deposit or withdrawal.
// Amounts are magnitudes; the caller applies the signs.
type LiquidityResult struct {
	LPTokens       fp `json:"lp_tokens"`
	DBase          fp `json:"d_base"`
	DShares        fp `json:"d_shares"`
	DBonds         fp `json:"d_bonds"`
	WithdrawShares fp `json:"withdraw_shares"`
}

// Model is the pricing capability a market trades against.
type Model interface {
	ModelName() string
	ModelType() string
	Config() Config

	CalcInGivenOut(out model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (TradeResult, error)
	CalcOutGivenIn(in model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (TradeResult, error)

	CalcLPOutGivenTokensIn(dBase, rate fp, state *model.MarketState, now fp, term hypertime.StretchedTime) (LiquidityResult, error)
	CalcTokensOutGivenLPIn(lpIn fp, state *model.MarketState) (LiquidityResult, error)

	CalcInitialBondReserves(targetAPR fp, state *model.MarketState, term hypertime.StretchedTime) (fp, error)
	CalcBondReserves(rate fp, state *model.MarketState, term hypertime.StretchedTime) (fp, error)
	CalcSpotPriceFromReserves(state *model.MarketState, remaining hypertime.StretchedTime) (fp, error)
	CalcAPRFromReserves(state *model.MarketState, remaining hypertime.StretchedTime) (fp, error)
	CalcTimeStretch(apr fp) (fp, error)
	CheckInputAssertions(q model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) error
}

// common holds the functions both models share.
type common struct {
	cfg Config
}

func (m common) Config() Config { return m.cfg }

// CalcInitialBondReserves returns the bond reserves that price the pool at
// targetAPR: z/2·(μ·(1+apr·t)^(1/τ) - c).
func (m common) CalcInitialBondReserves(targetAPR fp, state *model.MarketState, term hypertime.StretchedTime) (y fp, err error) {
	defer fixedpoint.Recover(&err)
	return initialBondReserves(state.ShareReserves, targetAPR, state, term), nil
}

func initialBondReserves(z, rate fp, state *model.MarketState, term hypertime.StretchedTime) fp {
	growth := fixedpoint.One.Add(rate.Mul(term.Years()))
	inv := fixedpoint.One.Div(term.FullTerm().Stretched())
	return z.Div(fixedpoint.FromInt(2)).Mul(state.InitSharePrice.Mul(growth.Pow(inv)).Sub(state.SharePrice))
}

// CalcBondReserves returns μ·z·(1+r·t)^(1/τ) - s, the bond reserves
// implied by rate once the LP supply offset is removed.
func (m common) CalcBondReserves(rate fp, state *model.MarketState, term hypertime.StretchedTime) (y fp, err error) {
	defer fixedpoint.Recover(&err)
	growth := fixedpoint.One.Add(rate.Mul(term.Years()))
	inv := fixedpoint.One.Div(term.FullTerm().Stretched())
	return state.InitSharePrice.Mul(state.ShareReserves).Mul(growth.Pow(inv)).Sub(state.LPTotalSupply), nil
}

// CalcSpotPriceFromReserves returns ((μz)/(y+s))^τ, or nan when y+s <= 0.
func (m common) CalcSpotPriceFromReserves(state *model.MarketState, remaining hypertime.StretchedTime) (p fp, err error) {
	defer fixedpoint.Recover(&err)
	return spotPrice(state, remaining), nil
}

func spotPrice(state *model.MarketState, remaining hypertime.StretchedTime) fp {
	total := state.BondReserves.Add(state.LPTotalSupply)
	if !total.IsPositive() {
		return fixedpoint.NaN()
	}
	return state.InitSharePrice.Mul(state.ShareReserves).Div(total).Pow(remaining.Stretched())
}

// CalcAPRFromReserves annualizes the spot price discount over the
// remaining term.
func (m common) CalcAPRFromReserves(state *model.MarketState, remaining hypertime.StretchedTime) (apr fp, err error) {
	defer fixedpoint.Recover(&err)
	return aprFromSpotPrice(spotPrice(state, remaining), remaining), nil
}

// aprFromSpotPrice is (1 - p) / (p·years).
func aprFromSpotPrice(p fp, remaining hypertime.StretchedTime) fp {
	return fixedpoint.One.Sub(p).Div(p.Mul(remaining.Years()))
}

// CalcTimeStretch is 3.09396 / (0.02789·apr·100).
func (m common) CalcTimeStretch(apr fp) (ts fp, err error) {
	defer fixedpoint.Recover(&err)
	return TimeStretch(apr), nil
}

var (
	stretchNumerator   = fixedpoint.MustParse("3.09396")
	stretchCoefficient = fixedpoint.MustParse("0.02789")
	hundred            = fixedpoint.FromInt(100)
)

// TimeStretch is the closed form behind CalcTimeStretch. It panics with a
// *fixedpoint.Error for a zero apr.
func TimeStretch(apr fp) fp {
	return stretchNumerator.Div(stretchCoefficient.Mul(apr.Mul(hundred)))
}

// CheckInputAssertions validates a trade's inputs before pricing.
func (m common) CheckInputAssertions(q model.Quantity, state *model.MarketState, remaining hypertime.StretchedTime) (err error) {
	defer fixedpoint.Recover(&err)

	if q.Unit != model.TokenBase && q.Unit != model.TokenBond {
		return fmt.Errorf("%w: %q", ErrUnsupportedToken, q.Unit)
	}
	if q.Amount.Lt(m.cfg.WEI) {
		return violation("expected amount >= %s, not %s", m.cfg.WEI, q.Amount)
	}
	if state.ShareReserves.IsNegative() {
		return violation("expected share_reserves >= 0, not %s", state.ShareReserves)
	}
	if state.BondReserves.IsNegative() {
		return violation("expected bond_reserves >= 0, not %s", state.BondReserves)
	}
	diff := state.ShareReserves.Mul(state.SharePrice).Sub(state.BondReserves).Abs()
	if !diff.Lt(m.cfg.MaxReservesDifference) {
		return violation("expected reserves difference < %s, not %s", m.cfg.MaxReservesDifference, diff)
	}
	for _, f := range []struct {
		name string
		v    fp
	}{
		{"curve_fee_multiple", state.CurveFeeMultiple},
		{"flat_fee_multiple", state.FlatFeeMultiple},
		{"governance_fee_multiple", state.GovernanceFeeMultiple},
	} {
		if f.v.IsNegative() || f.v.Gt(fixedpoint.One) {
			return violation("expected 1 >= %s >= 0, not %s", f.name, f.v)
		}
	}
	lo := m.cfg.PrecisionThreshold.Neg()
	hi := fixedpoint.One.Add(m.cfg.PrecisionThreshold)
	if st := remaining.Stretched(); st.Lt(lo) || st.Gt(hi) {
		return violation("expected stretched time in [%s, %s], not %s", lo, hi, st)
	}
	if nt := remaining.NormalizedTime(); nt.Lt(lo) || nt.Gt(hi) {
		return violation("expected normalized time in [%s, %s], not %s", lo, hi, nt)
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}
