package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/config"
	"github.com/atmx/hyperdrive-engine/internal/exposure"
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
	"github.com/atmx/hyperdrive-engine/internal/store"
	"github.com/atmx/hyperdrive-engine/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fp(s string) fixedpoint.FixedPoint {
	return fixedpoint.MustParse(s)
}

// newTestEnv creates a test Service with in-memory store and chi router.
// A zero cap disables the exposure limits.
func newTestEnv(t *testing.T, cohortCap string) (*trade.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	limiter := exposure.NewLimiter(d(cohortCap), decimal.Zero)
	svc := trade.NewService(ms, config.Default(), limiter, nil)

	r := chi.NewRouter()
	r.Get("/api/v1/presets", svc.ListPresets)
	r.Get("/api/v1/pools", svc.ListPools)
	r.Post("/api/v1/pools", svc.CreatePool)
	r.Get("/api/v1/pools/{poolID}", svc.GetPool)
	r.Get("/api/v1/pools/{poolID}/price", svc.GetPrice)
	r.Get("/api/v1/pools/{poolID}/max", svc.GetMaxTrade)
	r.Get("/api/v1/pools/{poolID}/history", svc.GetPoolHistory)
	r.Post("/api/v1/pools/{poolID}/actions", svc.ExecuteAction)
	r.Post("/api/v1/pools/{poolID}/checkpoint", svc.Checkpoint)
	r.Post("/api/v1/pools/{poolID}/time", svc.AdvanceTime)
	r.Get("/api/v1/wallets/{agentID}", svc.GetWallets)

	return svc, ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

// seedPool creates a 500M base pool at 5% through the API.
func seedPool(t *testing.T, router chi.Router) model.Pool {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/pools", trade.CreatePoolRequest{
		AgentID:      "lp",
		Contribution: d("500000000"),
		TargetAPR:    d("0.05"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[model.Pool](t, w)
}

func doAction(t *testing.T, router chi.Router, poolID string, req trade.ActionRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/pools/"+poolID+"/actions", req)
}

func near(a, b fixedpoint.FixedPoint, tol string) bool {
	return a.Sub(b).Abs().Le(fp(tol))
}

// --- Pool creation ---

func TestCreatePool(t *testing.T) {
	_, ms, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	if pool.Params.Preset != config.DefaultPreset {
		t.Errorf("expected preset %q, got %q", config.DefaultPreset, pool.Params.Preset)
	}
	if !near(pool.FixedAPR, fp("0.05"), "0.000001") {
		t.Errorf("expected apr ~0.05, got %s", pool.FixedAPR)
	}
	stored, err := ms.GetPool(context.Background(), pool.ID)
	if err != nil {
		t.Fatalf("pool not persisted: %v", err)
	}
	if !stored.State.ShareReserves.Eq(fp("500000000")) {
		t.Errorf("expected 500M share reserves, got %s", stored.State.ShareReserves)
	}

	wallet, err := ms.GetWallet(context.Background(), "lp", pool.ID)
	if err != nil {
		t.Fatalf("lp wallet not saved: %v", err)
	}
	if !wallet.LPTokens.Eq(stored.State.LPTotalSupply) {
		t.Errorf("lp holds %s of %s lp tokens", wallet.LPTokens, stored.State.LPTotalSupply)
	}
	if !wallet.Balance.Eq(fp("-500000000")) {
		t.Errorf("expected balance -500000000, got %s", wallet.Balance)
	}
}

func TestCreatePool_UnknownPreset(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := do(t, router, "POST", "/api/v1/pools", trade.CreatePoolRequest{
		AgentID:      "lp",
		Preset:       "nope",
		Contribution: d("1000"),
		TargetAPR:    d("0.05"),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePool_BadBody(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	req := httptest.NewRequest("POST", "/api/v1/pools", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreatePool_ZeroAPR(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := do(t, router, "POST", "/api/v1/pools", trade.CreatePoolRequest{
		AgentID:      "lp",
		Contribution: d("1000"),
		TargetAPR:    decimal.Zero,
	})
	if w.Code < 400 || w.Code >= 500 {
		t.Errorf("expected a client error, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListPresets(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := do(t, router, "GET", "/api/v1/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	presets := decode[map[string]json.RawMessage](t, w)
	if _, ok := presets[config.DefaultPreset]; !ok {
		t.Errorf("default preset missing from %v", presets)
	}
}

// --- Actions ---

func TestExecuteAction_OpenLong(t *testing.T) {
	_, ms, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionOpenLong,
		Amount:  d("1000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[trade.ActionResponse](t, w)

	bonds := resp.Wallet.LongBalance(resp.MintTime)
	if !bonds.Gt(fp("1000")) {
		t.Errorf("expected more than 1000 bonds for 1000 base, got %s", bonds)
	}
	if !resp.Wallet.Balance.Eq(fp("-1000")) {
		t.Errorf("expected balance -1000, got %s", resp.Wallet.Balance)
	}
	if !resp.FixedAPR.Lt(pool.FixedAPR) {
		t.Errorf("buying bonds should lower the rate: %s -> %s", pool.FixedAPR, resp.FixedAPR)
	}

	entries, _ := ms.GetLedgerEntriesByAgent(context.Background(), "alice")
	if len(entries) != 1 || entries[0].ID != resp.EntryID {
		t.Fatalf("expected the ledger entry %s, got %+v", resp.EntryID, entries)
	}
	if entries[0].Action != model.ActionOpenLong {
		t.Errorf("expected action open_long, got %s", entries[0].Action)
	}
}

func TestExecuteAction_OutputLimit(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionOpenLong,
		Amount:  d("1000"),
		Limit:   d("2000"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteAction_LongRoundTrip(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	open := decode[trade.ActionResponse](t, doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionOpenLong,
		Amount:  d("1000"),
	}))
	bonds := open.Wallet.LongBalance(open.MintTime)
	amount, err := bonds.Decimal()
	if err != nil {
		t.Fatal(err)
	}
	mint, _ := open.MintTime.Decimal()

	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID:  "alice",
		Action:   model.ActionCloseLong,
		Amount:   amount,
		MintTime: mint,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	closed := decode[trade.ActionResponse](t, w)
	if !closed.Wallet.LongBalance(open.MintTime).IsZero() {
		t.Errorf("expected no longs left, got %s", closed.Wallet.LongBalance(open.MintTime))
	}
	if !near(closed.Wallet.Balance, fixedpoint.Zero, "0.01") {
		t.Errorf("expected to get the base back without fees, balance %s", closed.Wallet.Balance)
	}
}

func TestExecuteAction_InsufficientPosition(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	for _, action := range []model.Action{model.ActionCloseLong, model.ActionCloseShort, model.ActionRemoveLiquidity} {
		w := doAction(t, router, pool.ID, trade.ActionRequest{
			AgentID: "bob",
			Action:  action,
			Amount:  d("10"),
		})
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d: %s", action, w.Code, w.Body.String())
		}
	}
}

func TestExecuteAction_UnknownAction(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "bob",
		Action:  "swap",
		Amount:  d("10"),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteAction_PoolNotFound(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := doAction(t, router, "no-such-pool", trade.ActionRequest{
		AgentID: "bob",
		Action:  model.ActionOpenLong,
		Amount:  d("10"),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteAction_ZeroAmount(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "bob",
		Action:  model.ActionOpenLong,
		Amount:  decimal.Zero,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestExecuteAction_ShortKeepsOpenPrice(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "carol",
		Action:  model.ActionOpenShort,
		Amount:  d("1000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[trade.ActionResponse](t, w)
	short := resp.Wallet.Shorts.Get(resp.MintTime)
	if !short.Balance.Eq(fp("1000")) {
		t.Errorf("expected 1000 shorts, got %s", short.Balance)
	}
	if !short.OpenSharePrice.Eq(fixedpoint.One) {
		t.Errorf("expected open share price 1, got %s", short.OpenSharePrice)
	}
	if !resp.Wallet.Balance.IsNegative() || resp.Wallet.Balance.Lt(fp("-1000")) {
		t.Errorf("short deposit should be between 0 and the face value, balance %s", resp.Wallet.Balance)
	}
}

func TestExecuteAction_RedeemInShares(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	no := false
	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID:      "lp",
		Action:       model.ActionRedeemWithdrawShares,
		Amount:       d("1"),
		AsUnderlying: &no,
	})
	// The lp holds no withdrawal shares, so the position check answers first.
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Exposure limits ---

func TestExecuteAction_CohortLimit(t *testing.T) {
	_, _, router := newTestEnv(t, "2000")
	pool := seedPool(t, router)

	open := func() int {
		return doAction(t, router, pool.ID, trade.ActionRequest{
			AgentID: "alice",
			Action:  model.ActionOpenLong,
			Amount:  d("1000"),
		}).Code
	}
	if code := open(); code != http.StatusOK {
		t.Fatalf("first long: expected 200, got %d", code)
	}
	if code := open(); code != http.StatusConflict {
		t.Errorf("second long: expected 409, got %d", code)
	}

	// Another agent has its own allowance.
	w := doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "bob",
		Action:  model.ActionOpenShort,
		Amount:  d("1500"),
	})
	if w.Code != http.StatusOK {
		t.Errorf("bob's short: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Clock and checkpoints ---

func TestAdvanceTime_MaturedLongRedeems(t *testing.T) {
	_, ms, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	open := decode[trade.ActionResponse](t, doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionOpenLong,
		Amount:  d("1000"),
	}))
	bonds := open.Wallet.LongBalance(open.MintTime)

	w := do(t, router, "POST", "/api/v1/pools/"+pool.ID+"/time", trade.AdvanceTimeRequest{Days: d("365")})
	if w.Code != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	advanced := decode[model.Pool](t, w)
	if !advanced.BlockTime.Eq(fp("365")) {
		t.Errorf("expected block time 365, got %s", advanced.BlockTime)
	}
	if advanced.State.LongsOutstanding.IsPositive() {
		t.Errorf("matured longs should be settled, %s outstanding", advanced.State.LongsOutstanding)
	}

	amount, _ := bonds.Decimal()
	w = doAction(t, router, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionCloseLong,
		Amount:  amount,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[trade.ActionResponse](t, w)
	if !near(resp.WalletDeltas.Balance, bonds, "0.000001") {
		t.Errorf("matured bonds pay face value: got %s for %s bonds", resp.WalletDeltas.Balance, bonds)
	}

	entries, _ := ms.GetLedgerEntriesByPool(context.Background(), pool.ID)
	if len(entries) != 4 {
		t.Errorf("expected 4 ledger entries, got %d", len(entries))
	}
}

func TestAdvanceTime_AccruesInterest(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := do(t, router, "POST", "/api/v1/pools/"+pool.ID+"/time", trade.AdvanceTimeRequest{
		Days:        d("73"),
		VariableAPR: d("0.05"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	advanced := decode[model.Pool](t, w)
	if !near(advanced.State.SharePrice, fp("1.01"), "0.000000001") {
		t.Errorf("expected share price 1.01, got %s", advanced.State.SharePrice)
	}
	if advanced.State.Checkpoints.Len() != 74 {
		t.Errorf("expected checkpoints 0..73, got %d", advanced.State.Checkpoints.Len())
	}
}

func TestAdvanceTime_NotPositive(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	w := do(t, router, "POST", "/api/v1/pools/"+pool.ID+"/time", trade.AdvanceTimeRequest{Days: d("-1")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckpoint_InvalidTime(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	future := d("30")
	w := do(t, router, "POST", "/api/v1/pools/"+pool.ID+"/checkpoint", trade.CheckpointRequest{Time: &future})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckpoint_Latest(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	w := do(t, router, "POST", "/api/v1/pools/"+pool.ID+"/checkpoint", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Queries ---

func TestGetPrice(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := do(t, router, "GET", "/api/v1/pools/"+pool.ID+"/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	price := decode[trade.PriceResponse](t, w)
	if !price.SpotPrice.Lt(fixedpoint.One) || !price.SpotPrice.IsPositive() {
		t.Errorf("expected a bond price below par, got %s", price.SpotPrice)
	}
	if !near(price.FixedAPR, fp("0.05"), "0.000001") {
		t.Errorf("expected apr ~0.05, got %s", price.FixedAPR)
	}
}

func TestGetMaxTrade(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	w := do(t, router, "GET", "/api/v1/pools/"+pool.ID+"/max", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	mt := decode[model.MaxTrade](t, w)
	if !mt.LongBase.IsPositive() || !mt.ShortBonds.IsPositive() {
		t.Errorf("expected positive max trades, got %+v", mt)
	}
}

func TestGetWallets(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	first := seedPool(t, router)
	second := seedPool(t, router)

	w := do(t, router, "GET", "/api/v1/wallets/lp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	wallets := decode[[]model.Wallet](t, w)
	if len(wallets) != 2 {
		t.Fatalf("expected 2 wallets, got %d", len(wallets))
	}
	seen := map[string]bool{}
	for _, wl := range wallets {
		seen[wl.PoolID] = true
	}
	if !seen[first.ID] || !seen[second.ID] {
		t.Errorf("expected wallets in both pools, got %v", seen)
	}
}

func TestGetWallets_Empty(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := do(t, router, "GET", "/api/v1/wallets/nobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected [], got %s", body)
	}
}

func TestGetPoolHistory(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	pool := seedPool(t, router)
	doAction(t, router, pool.ID, trade.ActionRequest{AgentID: "alice", Action: model.ActionOpenShort, Amount: d("100")})

	w := do(t, router, "GET", "/api/v1/pools/"+pool.ID+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	entries := decode[[]model.LedgerEntry](t, w)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != model.ActionInitialize || entries[1].Action != model.ActionOpenShort {
		t.Errorf("unexpected history order: %s, %s", entries[0].Action, entries[1].Action)
	}
}

func TestGetPool_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t, "0")
	w := do(t, router, "GET", "/api/v1/pools/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Restore ---

func TestService_RestoresPoolFromStore(t *testing.T) {
	_, ms, router := newTestEnv(t, "0")
	pool := seedPool(t, router)

	// A second service over the same store has no live markets.
	svc := trade.NewService(ms, config.Default(), nil, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/pools/{poolID}/actions", svc.ExecuteAction)

	w := doAction(t, r, pool.ID, trade.ActionRequest{
		AgentID: "alice",
		Action:  model.ActionOpenLong,
		Amount:  d("1000"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[trade.ActionResponse](t, w)
	if !resp.FixedAPR.Lt(pool.FixedAPR) {
		t.Errorf("expected the restored pool to trade from %s, got %s", pool.FixedAPR, resp.FixedAPR)
	}
}
