package pricing_test

import (
	"errors"
	"math"
	"testing"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/hypertime"
	"github.com/atmx/hyperdrive-engine/internal/model"
	"github.com/atmx/hyperdrive-engine/internal/pricing"
)

func fp(s string) fixedpoint.FixedPoint {
	return fixedpoint.MustParse(s)
}

// near checks |got-want| <= rel*|want|.
func near(t *testing.T, name string, got, want fixedpoint.FixedPoint, rel float64) {
	t.Helper()
	g, w := got.Float64(), want.Float64()
	if math.Abs(g-w) > rel*math.Abs(w) {
		t.Errorf("%s: got %s, want ~%s", name, got, want)
	}
}

// newPool builds the 500M / 5% / 365-day reference pool.
func newPool(t *testing.T, m pricing.Model) (*model.MarketState, hypertime.StretchedTime) {
	t.Helper()
	ts, err := m.CalcTimeStretch(fp("0.05"))
	if err != nil {
		t.Fatalf("time stretch: %v", err)
	}
	term, err := hypertime.NewStretchedTime(fp("365"), ts, fp("365"))
	if err != nil {
		t.Fatalf("term: %v", err)
	}
	s := &model.MarketState{
		ShareReserves:  fp("500_000_000"),
		SharePrice:     fixedpoint.One,
		InitSharePrice: fixedpoint.One,
	}
	y, err := m.CalcInitialBondReserves(fp("0.05"), s, term)
	if err != nil {
		t.Fatalf("initial bond reserves: %v", err)
	}
	s.BondReserves = y
	s.LPTotalSupply = s.ShareReserves.Mul(s.SharePrice).Add(y)
	return s, term
}

func withFees(s *model.MarketState) *model.MarketState {
	c := s.Copy()
	c.CurveFeeMultiple = fp("0.1")
	c.FlatFeeMultiple = fp("0.05")
	c.GovernanceFeeMultiple = fp("0.1")
	return &c
}

// --- Reserves, price and rate ---

func TestTimeStretch(t *testing.T) {
	got := pricing.TimeStretch(fp("0.05"))
	near(t, "time stretch", got, fp("22.186877016851916"), 1e-12)
	if err := fixedpoint.Try(func() { pricing.TimeStretch(fixedpoint.Zero) }); !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Errorf("zero apr: expected ErrDivisionByZero, got %v", err)
	}
}

func TestInitialReserves_ReferencePool(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, term := newPool(t, m)
	near(t, "lp supply", s.LPTotalSupply, fp("988_013_627.53"), 1e-5)

	apr, err := m.CalcAPRFromReserves(s, term)
	if err != nil {
		t.Fatalf("apr: %v", err)
	}
	near(t, "apr", apr, fp("0.05"), 1e-9)

	y, err := m.CalcBondReserves(fp("0.05"), s, term)
	if err != nil {
		t.Fatalf("bond reserves: %v", err)
	}
	near(t, "bond reserves", y, s.BondReserves, 1e-12)
}

func TestSpotPrice_NaNWithoutBonds(t *testing.T) {
	m := pricing.NewYieldSpace(pricing.DefaultConfig())
	s := &model.MarketState{ShareReserves: fp("1"), SharePrice: fixedpoint.One, InitSharePrice: fixedpoint.One}
	term, _ := hypertime.NewStretchedTime(fp("365"), fp("22"), fp("365"))
	p, err := m.CalcSpotPriceFromReserves(s, term)
	if err != nil {
		t.Fatalf("spot price: %v", err)
	}
	if !p.IsNaN() {
		t.Errorf("expected nan, got %s", p)
	}
}

func TestModelNames(t *testing.T) {
	cfg := pricing.DefaultConfig()
	for _, tt := range []struct {
		m          pricing.Model
		name, kind string
	}{
		{pricing.NewYieldSpace(cfg), "YieldSpace", "yieldspace"},
		{pricing.NewHyperdrive(cfg), "Hyperdrive", "hyperdrive"},
	} {
		if tt.m.ModelName() != tt.name || tt.m.ModelType() != tt.kind {
			t.Errorf("got %s/%s, want %s/%s", tt.m.ModelName(), tt.m.ModelType(), tt.name, tt.kind)
		}
	}
}

// --- Assertions ---

func TestCheckInputAssertions(t *testing.T) {
	m := pricing.NewYieldSpace(pricing.DefaultConfig())
	s, term := newPool(t, m)

	if err := m.CheckInputAssertions(model.Base(fp("100")), s, term); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
	if err := m.CheckInputAssertions(model.Base(fixedpoint.Zero), s, term); !errors.Is(err, pricing.ErrInvariantViolation) {
		t.Errorf("zero amount: expected ErrInvariantViolation, got %v", err)
	}
	if err := m.CheckInputAssertions(model.Quantity{Amount: fp("1"), Unit: "eth"}, s, term); !errors.Is(err, pricing.ErrUnsupportedToken) {
		t.Errorf("bad unit: expected ErrUnsupportedToken, got %v", err)
	}
	bad := s.Copy()
	bad.CurveFeeMultiple = fp("1.5")
	if err := m.CheckInputAssertions(model.Base(fp("100")), &bad, term); !errors.Is(err, pricing.ErrInvariantViolation) {
		t.Errorf("fee > 1: expected ErrInvariantViolation, got %v", err)
	}
	bad = s.Copy()
	bad.BondReserves = fp("-1")
	if err := m.CheckInputAssertions(model.Base(fp("100")), &bad, term); !errors.Is(err, pricing.ErrInvariantViolation) {
		t.Errorf("negative bonds: expected ErrInvariantViolation, got %v", err)
	}
	late := term.WithDays(fp("400"))
	if err := m.CheckInputAssertions(model.Base(fp("100")), s, late); !errors.Is(err, pricing.ErrInvariantViolation) {
		t.Errorf("time > 1: expected ErrInvariantViolation, got %v", err)
	}
}

// --- Trades ---

func TestRoundTrip_FeeFree(t *testing.T) {
	cfg := pricing.DefaultConfig()
	tests := []struct {
		m         pricing.Model
		remaining string
	}{
		{pricing.NewYieldSpace(cfg), "365"},
		{pricing.NewYieldSpace(cfg), "182.5"},
		{pricing.NewHyperdrive(cfg), "365"},
	}
	for _, tt := range tests {
		m := tt.m
		s, term := newPool(t, m)
		rt := term.WithDays(fp(tt.remaining))
		amount := fp("100_000")

		out, err := m.CalcOutGivenIn(model.Base(amount), s, rt)
		if err != nil {
			t.Fatalf("%s out given in: %v", m.ModelName(), err)
		}
		bonds := out.Breakdown.WithFee
		if !bonds.Gt(amount) {
			t.Errorf("%s: bonds out %s should exceed base in %s at a positive rate", m.ModelName(), bonds, amount)
		}
		in, err := m.CalcInGivenOut(model.Bond(bonds), s, rt)
		if err != nil {
			t.Fatalf("%s in given out: %v", m.ModelName(), err)
		}
		near(t, m.ModelName()+" round trip "+tt.remaining, in.Breakdown.WithFee, amount, 1e-9)

		back, err := m.CalcOutGivenIn(model.Bond(bonds), s, rt)
		if err != nil {
			t.Fatalf("%s sell bonds: %v", m.ModelName(), err)
		}
		if back.Breakdown.WithFee.Gt(amount) {
			t.Errorf("%s: selling bonds back returned %s > %s", m.ModelName(), back.Breakdown.WithFee, amount)
		}
	}
}

func TestFeesReduceTraderValue(t *testing.T) {
	cfg := pricing.DefaultConfig()
	m := pricing.NewHyperdrive(cfg)
	s, term := newPool(t, m)
	fs := withFees(s)
	rt := term.WithDays(fp("200"))

	free, err := m.CalcOutGivenIn(model.Base(fp("10_000")), s, rt)
	if err != nil {
		t.Fatal(err)
	}
	paid, err := m.CalcOutGivenIn(model.Base(fp("10_000")), fs, rt)
	if err != nil {
		t.Fatal(err)
	}
	if !paid.Breakdown.WithFee.Lt(free.Breakdown.WithFee) {
		t.Errorf("fees should reduce bonds out: %s >= %s", paid.Breakdown.WithFee, free.Breakdown.WithFee)
	}
	if !paid.Breakdown.FlatFee.IsPositive() || !paid.Breakdown.CurveFee.IsPositive() {
		t.Errorf("expected both fees charged: %+v", paid.Breakdown)
	}
	near(t, "gov curve fee", paid.Breakdown.GovCurveFee, paid.Breakdown.CurveFee.Mul(fp("0.1")), 1e-12)

	cost, err := m.CalcInGivenOut(model.Bond(fp("10_000")), fs, rt)
	if err != nil {
		t.Fatal(err)
	}
	if !cost.Breakdown.WithFee.Gt(cost.Breakdown.WithoutFee) {
		t.Errorf("fees should raise the cost: %s <= %s", cost.Breakdown.WithFee, cost.Breakdown.WithoutFee)
	}
}

func TestHyperdrive_FullTermMatchesCurve(t *testing.T) {
	cfg := pricing.DefaultConfig()
	hd, ys := pricing.NewHyperdrive(cfg), pricing.NewYieldSpace(cfg)
	s, term := newPool(t, hd)
	fs := withFees(s)
	fs.FlatFeeMultiple = fixedpoint.Zero

	a, err := hd.CalcOutGivenIn(model.Base(fp("5000")), fs, term)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ys.CalcOutGivenIn(model.Base(fp("5000")), fs, term)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Breakdown.WithFee.Eq(b.Breakdown.WithFee) || !a.Market.DBonds.Eq(b.Market.DBonds) {
		t.Errorf("hyperdrive %s != yieldspace %s at full term", a.Breakdown.WithFee, b.Breakdown.WithFee)
	}
}

func TestHyperdrive_MaturedIsFlat(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, term := newPool(t, m)
	matured := term.WithDays(fixedpoint.Zero)

	res, err := m.CalcOutGivenIn(model.Bond(fp("1000")), s, matured)
	if err != nil {
		t.Fatal(err)
	}
	if res.Breakdown.WithFee.String() != "1000.0" || res.User.DBase.String() != "1000.0" {
		t.Errorf("matured bonds should redeem 1:1, got %+v", res.Breakdown)
	}
	if !res.Market.DBonds.IsZero() || res.Market.DBase.String() != "-1000.0" {
		t.Errorf("matured redemption should not touch bond reserves: %+v", res.Market)
	}
}

func TestDeltasAreOpposite(t *testing.T) {
	m := pricing.NewYieldSpace(pricing.DefaultConfig())
	s, term := newPool(t, m)
	res, err := m.CalcInGivenOut(model.Base(fp("2500")), withFees(s), term)
	if err != nil {
		t.Fatal(err)
	}
	if !res.User.DBase.Add(res.Market.DBase).IsZero() || !res.User.DBonds.Add(res.Market.DBonds).IsZero() {
		t.Errorf("user %+v and market %+v should net to zero", res.User, res.Market)
	}
}

// --- Liquidity ---

func TestLP_EqualContributionDoublesSupply(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, term := newPool(t, m)
	apr, _ := m.CalcAPRFromReserves(s, term)

	res, err := m.CalcLPOutGivenTokensIn(fp("500_000_000"), apr, s, fixedpoint.Zero, term)
	if err != nil {
		t.Fatalf("lp out: %v", err)
	}
	if !res.LPTokens.Eq(s.LPTotalSupply) {
		t.Errorf("lp out %s, want %s", res.LPTokens, s.LPTotalSupply)
	}
	near(t, "bond delta", res.DBonds, s.BondReserves, 1e-9)
}

func TestLP_BootstrapMintsShares(t *testing.T) {
	m := pricing.NewYieldSpace(pricing.DefaultConfig())
	term, _ := hypertime.NewStretchedTime(fp("365"), fp("22"), fp("365"))
	s := &model.MarketState{SharePrice: fp("2"), InitSharePrice: fp("2")}
	res, err := m.CalcLPOutGivenTokensIn(fp("100"), fp("0.05"), s, fixedpoint.Zero, term)
	if err != nil {
		t.Fatal(err)
	}
	if res.LPTokens.String() != "50.0" {
		t.Errorf("bootstrap lp = %s, want 50.0", res.LPTokens)
	}
}

func TestLP_RemoveAll(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, _ := newPool(t, m)
	res, err := m.CalcTokensOutGivenLPIn(s.LPTotalSupply, s)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DBase.Eq(s.ShareReserves) || !res.DBonds.Eq(s.BondReserves) || !res.WithdrawShares.IsZero() {
		t.Errorf("remove all = %+v", res)
	}
	if _, err := m.CalcTokensOutGivenLPIn(s.LPTotalSupply.Add(fixedpoint.One), s); !errors.Is(err, pricing.ErrInvariantViolation) {
		t.Errorf("over-burn: expected ErrInvariantViolation, got %v", err)
	}
}

func TestLP_OpenLongsLeaveWithdrawShares(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, _ := newPool(t, m)
	st := s.Copy()
	st.LongsOutstanding = fp("1000")
	st.LongBaseVolume = fp("950")
	res, err := m.CalcTokensOutGivenLPIn(st.LPTotalSupply, &st)
	if err != nil {
		t.Fatal(err)
	}
	if res.WithdrawShares.String() != "50.0" {
		t.Errorf("withdraw shares = %s, want 50.0", res.WithdrawShares)
	}
	if !res.DBase.Lt(st.ShareReserves) {
		t.Error("capital backing longs must stay in the pool")
	}
}

// --- Max trades ---

func TestGetMaxLong(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, term := newPool(t, m)
	base, bonds, err := pricing.GetMaxLong(m, s, term)
	if err != nil {
		t.Fatal(err)
	}
	if !base.IsPositive() || !bonds.IsPositive() {
		t.Fatalf("expected a positive max long, got base=%s bonds=%s", base, bonds)
	}
	if bonds.Gt(s.BondReserves.Sub(s.BondBuffer)) {
		t.Errorf("max long bonds %s exceed available %s", bonds, s.BondReserves)
	}
	if _, err := m.CalcOutGivenIn(model.Base(base), s, term); err != nil {
		t.Errorf("max long should be tradeable: %v", err)
	}

	empty := s.Copy()
	empty.BondBuffer = empty.BondReserves
	base, bonds, err = pricing.GetMaxLong(m, &empty, term)
	if err != nil || !base.IsZero() || !bonds.IsZero() {
		t.Errorf("no available bonds: got %s, %s, %v", base, bonds, err)
	}
}

func TestGetMaxShort(t *testing.T) {
	m := pricing.NewHyperdrive(pricing.DefaultConfig())
	s, term := newPool(t, m)
	loss, bonds, err := pricing.GetMaxShort(m, s, term)
	if err != nil {
		t.Fatal(err)
	}
	if !bonds.IsPositive() || !loss.IsPositive() || !loss.Lt(bonds) {
		t.Fatalf("expected 0 < loss < bonds, got loss=%s bonds=%s", loss, bonds)
	}
	if _, err := m.CalcOutGivenIn(model.Bond(bonds), s, term); err != nil {
		t.Errorf("max short should be tradeable: %v", err)
	}
}
