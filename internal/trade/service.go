// Package trade provides the HTTP handlers and orchestration for running
// Hyperdrive pools: creating pools, executing agent actions, advancing the
// pool clock, and querying prices, ledgers and wallets.
//
// Amounts cross the API as decimals and are converted to FixedPoint before
// they reach a market; float64 never carries money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/config"
	"github.com/atmx/hyperdrive-engine/internal/exposure"
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/market"
	"github.com/atmx/hyperdrive-engine/internal/metrics"
	"github.com/atmx/hyperdrive-engine/internal/model"
	"github.com/atmx/hyperdrive-engine/internal/pricing"
	"github.com/atmx/hyperdrive-engine/internal/store"
)

type fp = fixedpoint.FixedPoint

var (
	ErrUnknownAction        = errors.New("trade: unknown action")
	ErrInsufficientPosition = errors.New("trade: insufficient position")
	ErrBadRequest           = errors.New("trade: bad request")
)

// livePool is a restored market together with its snapshot metadata. mu
// serializes the read-modify-write of the pool and its wallets.
type livePool struct {
	mu   sync.Mutex
	m    *market.Market
	pool model.Pool
}

// Service handles pool operations. Live markets are kept in memory and
// restored from the store on first use.
type Service struct {
	store   store.Store
	presets config.Presets
	limiter *exposure.Limiter // optional
	wsHub   *WSHub            // optional WebSocket hub for real-time broadcasts

	mu    sync.Mutex
	pools map[string]*livePool
}

// NewService creates a new pool service.
// Pass nil for limiter or hub to disable exposure caps or broadcasting.
func NewService(st store.Store, presets config.Presets, limiter *exposure.Limiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		presets: presets,
		limiter: limiter,
		wsHub:   hub,
		pools:   make(map[string]*livePool),
	}
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	AgentID      string          `json:"agent_id"`
	Preset       string          `json:"preset"` // empty selects "default"
	Contribution decimal.Decimal `json:"contribution"`
	TargetAPR    decimal.Decimal `json:"target_apr"`
}

// ActionRequest is the JSON body for POST /pools/{poolID}/actions.
type ActionRequest struct {
	AgentID  string          `json:"agent_id"`
	Action   model.Action    `json:"action"`
	Amount   decimal.Decimal `json:"amount"`
	MintTime decimal.Decimal `json:"mint_time"` // close_long, close_short
	// Limit is the slippage guard: min output for closes, longs and
	// redemptions, max deposit for shorts. Zero means no limit.
	Limit        decimal.Decimal `json:"limit"`
	AsUnderlying *bool           `json:"as_underlying,omitempty"` // redeem_withdraw_shares; default true
}

// ActionResponse is the JSON body returned for an executed action.
type ActionResponse struct {
	EntryID      string             `json:"entry_id"`
	PoolID       string             `json:"pool_id"`
	AgentID      string             `json:"agent_id"`
	Action       model.Action       `json:"action"`
	MintTime     fp                 `json:"mint_time"`
	BlockTime    fp                 `json:"block_time"`
	SpotPrice    fp                 `json:"spot_price"`
	FixedAPR     fp                 `json:"fixed_apr"`
	MarketDeltas model.MarketDeltas `json:"market_deltas"`
	WalletDeltas model.WalletDeltas `json:"wallet_deltas"`
	Wallet       model.Wallet       `json:"wallet"`
}

// CheckpointRequest is the JSON body for POST /pools/{poolID}/checkpoint.
// A nil time selects the latest checkpoint.
type CheckpointRequest struct {
	Time *decimal.Decimal `json:"time,omitempty"`
}

// AdvanceTimeRequest is the JSON body for POST /pools/{poolID}/time.
type AdvanceTimeRequest struct {
	Days        decimal.Decimal `json:"days"`
	VariableAPR decimal.Decimal `json:"variable_apr"`
}

// PriceResponse is the JSON body for GET /pools/{poolID}/price.
type PriceResponse struct {
	PoolID               string `json:"pool_id"`
	BlockTime            fp     `json:"block_time"`
	LatestCheckpointTime fp     `json:"latest_checkpoint_time"`
	SpotPrice            fp     `json:"spot_price"`
	FixedAPR             fp     `json:"fixed_apr"`
	SharePrice           fp     `json:"share_price"`
}

// --- HTTP Handlers ---

// ListPresets handles GET /api/v1/presets
func (s *Service) ListPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.presets)
}

// CreatePool handles POST /api/v1/pools
// Builds a pool from a preset and initializes it with the agent's
// contribution at the target APR.
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		writeError(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	start := time.Now()
	lp, entry, err := s.createPool(r.Context(), req)
	s.observe(model.ActionInitialize, start, err)
	if err != nil {
		s.fail(w, "create pool", err)
		return
	}

	slog.Info("pool initialized",
		"pool_id", lp.pool.ID,
		"preset", lp.pool.Params.Preset,
		"agent", req.AgentID,
		"contribution", req.Contribution.String(),
		"apr", lp.pool.FixedAPR.String(),
	)
	s.broadcast("pool_created", &lp.pool, entry)
	writeJSON(w, http.StatusCreated, lp.pool)
}

func (s *Service) createPool(ctx context.Context, req CreatePoolRequest) (*livePool, *model.LedgerEntry, error) {
	preset, err := s.presets.Get(req.Preset)
	if err != nil {
		return nil, nil, err
	}
	contribution, err := toFP(req.Contribution)
	if err != nil {
		return nil, nil, err
	}
	apr, err := toFP(req.TargetAPR)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := preset.MarketConfig(apr)
	if err != nil {
		return nil, nil, err
	}
	pm, err := preset.Model()
	if err != nil {
		return nil, nil, err
	}
	m, err := market.New(cfg, pm)
	if err != nil {
		return nil, nil, err
	}
	md, wd, err := m.Initialize(contribution, apr)
	if err != nil {
		return nil, nil, err
	}

	name := req.Preset
	if name == "" {
		name = config.DefaultPreset
	}
	now := time.Now().UTC()
	lp := &livePool{
		m: m,
		pool: model.Pool{
			ID: uuid.New().String(),
			Params: model.PoolParams{
				Preset:                name,
				PricingModel:          preset.PricingModel,
				TermDays:              cfg.TermDays,
				CheckpointDays:        cfg.CheckpointDays,
				TimeStretch:           cfg.TimeStretch,
				TargetAPR:             apr,
				WEI:                   cfg.Pricing.WEI,
				PrecisionThreshold:    cfg.Pricing.PrecisionThreshold,
				MaxReservesDifference: cfg.Pricing.MaxReservesDifference,
			},
			CreatedAt: now,
		},
	}
	lp.snapshot(now)
	if err := s.store.CreatePool(ctx, &lp.pool); err != nil {
		return nil, nil, err
	}

	wallet := model.NewWallet(req.AgentID, lp.pool.ID, fixedpoint.Zero)
	if err := wallet.Update(wd); err != nil {
		return nil, nil, err
	}
	if err := s.store.SaveWallet(ctx, wallet); err != nil {
		return nil, nil, err
	}
	entry := lp.entry(req.AgentID, model.ActionInitialize, contribution, lp.pool.BlockTime, md, wd)
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.pools[lp.pool.ID] = lp
	s.mu.Unlock()
	metrics.ActivePools.Inc()
	lp.record()
	return lp, entry, nil
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetPrice handles GET /api/v1/pools/{poolID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	lp, err := s.load(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get price", err)
		return
	}
	spot, err := lp.m.SpotPrice()
	if err != nil {
		s.fail(w, "get price", err)
		return
	}
	apr, err := lp.m.FixedAPR()
	if err != nil {
		s.fail(w, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{
		PoolID:               lp.pool.ID,
		BlockTime:            lp.m.BlockTime(),
		LatestCheckpointTime: lp.m.LatestCheckpointTime(),
		SpotPrice:            spot,
		FixedAPR:             apr,
		SharePrice:           lp.m.State().SharePrice,
	})
}

// GetMaxTrade handles GET /api/v1/pools/{poolID}/max
func (s *Service) GetMaxTrade(w http.ResponseWriter, r *http.Request) {
	lp, err := s.load(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "max trade", err)
		return
	}
	mt, err := lp.m.MaxTrade()
	if err != nil {
		s.fail(w, "max trade", err)
		return
	}
	writeJSON(w, http.StatusOK, mt)
}

// ExecuteAction handles POST /api/v1/pools/{poolID}/actions
// Runs one agent action against the pool, applies the wallet deltas and
// records the ledger entry.
func (s *Service) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		writeError(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp, err := s.executeAction(r.Context(), chi.URLParam(r, "poolID"), req)
	s.observe(req.Action, start, err)
	if err != nil {
		s.fail(w, string(req.Action), err)
		return
	}

	slog.Info("action executed",
		"entry_id", resp.EntryID,
		"pool_id", resp.PoolID,
		"agent", req.AgentID,
		"action", req.Action,
		"amount", req.Amount.String(),
		"spot_price", resp.SpotPrice.String(),
		"fixed_apr", resp.FixedAPR.String(),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) executeAction(ctx context.Context, poolID string, req ActionRequest) (*ActionResponse, error) {
	lp, err := s.load(ctx, poolID)
	if err != nil {
		return nil, err
	}
	amount, err := toFP(req.Amount)
	if err != nil {
		return nil, err
	}
	mint, err := toFP(req.MintTime)
	if err != nil {
		return nil, err
	}
	limit, err := toFP(req.Limit)
	if err != nil {
		return nil, err
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	wallet, err := s.store.GetWallet(ctx, req.AgentID, poolID)
	if errors.Is(err, store.ErrNotFound) {
		wallet = model.NewWallet(req.AgentID, poolID, fixedpoint.Zero)
	} else if err != nil {
		return nil, err
	}

	if req.Action == model.ActionOpenLong || req.Action == model.ActionOpenShort {
		mint = lp.m.LatestCheckpointTime()
		if err := s.checkExposure(ctx, lp, req.AgentID, req.Action, amount, mint); err != nil {
			return nil, err
		}
	}

	md, wd, err := dispatch(lp.m, wallet, req, amount, mint, limit)
	if err != nil {
		return nil, err
	}
	if err := wallet.Update(wd); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lp.snapshot(now)
	if err := s.store.UpdatePool(ctx, &lp.pool); err != nil {
		return nil, err
	}
	if err := s.store.SaveWallet(ctx, wallet); err != nil {
		return nil, err
	}
	entry := lp.entry(req.AgentID, req.Action, amount, mint, md, wd)
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	lp.record()
	if wd.FeesPaid.IsPositive() {
		metrics.FeesPaid.WithLabelValues(poolID).Add(wd.FeesPaid.Float64())
	}
	s.broadcast("pool_updated", &lp.pool, entry)

	return &ActionResponse{
		EntryID:      entry.ID,
		PoolID:       poolID,
		AgentID:      req.AgentID,
		Action:       req.Action,
		MintTime:     mint,
		BlockTime:    lp.pool.BlockTime,
		SpotPrice:    lp.pool.SpotPrice,
		FixedAPR:     lp.pool.FixedAPR,
		MarketDeltas: md,
		WalletDeltas: wd,
		Wallet:       *wallet,
	}, nil
}

// dispatch runs one action. Closing actions are checked against the
// wallet so an agent cannot sell what it does not hold.
func dispatch(m *market.Market, w *model.Wallet, req ActionRequest, amount, mint, limit fp) (model.MarketDeltas, model.WalletDeltas, error) {
	none := func(err error) (model.MarketDeltas, model.WalletDeltas, error) {
		return model.MarketDeltas{}, model.WalletDeltas{}, err
	}
	holds := func(what string, have fp) error {
		if have.Lt(amount) {
			return fmt.Errorf("%w: %s %s held, %s requested", ErrInsufficientPosition, have, what, amount)
		}
		return nil
	}

	switch req.Action {
	case model.ActionOpenLong:
		return m.OpenLong(amount, limit)
	case model.ActionCloseLong:
		if err := holds("longs", w.LongBalance(mint)); err != nil {
			return none(err)
		}
		return m.CloseLong(amount, mint, limit)
	case model.ActionOpenShort:
		return m.OpenShort(amount, limit)
	case model.ActionCloseShort:
		short := w.Shorts.Get(mint)
		if err := holds("shorts", short.Balance); err != nil {
			return none(err)
		}
		return m.CloseShort(amount, mint, short.OpenSharePrice, limit)
	case model.ActionAddLiquidity:
		return m.AddLiquidity(amount)
	case model.ActionRemoveLiquidity:
		if err := holds("lp tokens", w.LPTokens); err != nil {
			return none(err)
		}
		return m.RemoveLiquidity(amount)
	case model.ActionRedeemWithdrawShares:
		if err := holds("withdrawal shares", w.WithdrawShares); err != nil {
			return none(err)
		}
		asUnderlying := req.AsUnderlying == nil || *req.AsUnderlying
		return m.RedeemWithdrawShares(amount, limit, asUnderlying)
	default:
		return none(fmt.Errorf("%w: %q", ErrUnknownAction, req.Action))
	}
}

// checkExposure applies the exposure caps to an opening trade. A long's
// bonds are estimated at the spot price, which overstates them.
func (s *Service) checkExposure(ctx context.Context, lp *livePool, agentID string, action model.Action, amount, mint fp) error {
	if s.limiter == nil {
		return nil
	}
	bonds := amount
	if action == model.ActionOpenLong {
		spot, err := lp.m.SpotPrice()
		if err != nil {
			return err
		}
		if err := fixedpoint.Try(func() { bonds = amount.Div(spot) }); err != nil {
			return err
		}
	}
	delta, err := bonds.Decimal()
	if err != nil {
		return err
	}
	existing, err := s.store.GetAgentExposures(ctx, agentID)
	if err != nil {
		return err
	}
	if err := s.limiter.CheckLimit(exposure.CohortKey(lp.pool.ID, mint.String()), delta, existing); err != nil {
		reason := "pool"
		if errors.Is(err, exposure.ErrCohortLimitExceeded) {
			reason = "cohort"
		}
		metrics.ExposureRejections.WithLabelValues(reason).Inc()
		return err
	}
	return nil
}

// Checkpoint handles POST /api/v1/pools/{poolID}/checkpoint
func (s *Service) Checkpoint(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	start := time.Now()
	pool, err := s.checkpoint(r.Context(), chi.URLParam(r, "poolID"), req)
	s.observe(model.ActionCheckpoint, start, err)
	if err != nil {
		s.fail(w, "checkpoint", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Service) checkpoint(ctx context.Context, poolID string, req CheckpointRequest) (*model.Pool, error) {
	lp, err := s.load(ctx, poolID)
	if err != nil {
		return nil, err
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()

	t := lp.m.LatestCheckpointTime()
	if req.Time != nil {
		if t, err = toFP(*req.Time); err != nil {
			return nil, err
		}
	}
	if err := lp.m.Checkpoint(t); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, lp, model.ActionCheckpoint, t, model.MarketDeltas{}); err != nil {
		return nil, err
	}
	slog.Info("checkpoint applied", "pool_id", poolID, "time", t.String())
	pool := lp.pool
	return &pool, nil
}

// AdvanceTime handles POST /api/v1/pools/{poolID}/time
// Moves the pool clock, accrues variable interest over the interval and
// creates every checkpoint passed on the way so matured cohorts settle.
func (s *Service) AdvanceTime(w http.ResponseWriter, r *http.Request) {
	var req AdvanceTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start := time.Now()
	pool, err := s.advanceTime(r.Context(), chi.URLParam(r, "poolID"), req)
	s.observe(model.ActionAdvanceTime, start, err)
	if err != nil {
		s.fail(w, "advance time", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Service) advanceTime(ctx context.Context, poolID string, req AdvanceTimeRequest) (*model.Pool, error) {
	lp, err := s.load(ctx, poolID)
	if err != nil {
		return nil, err
	}
	days, err := toFP(req.Days)
	if err != nil {
		return nil, err
	}
	apr, err := toFP(req.VariableAPR)
	if err != nil {
		return nil, err
	}
	if !days.IsPositive() {
		return nil, fmt.Errorf("%w: days must be positive", ErrBadRequest)
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	prev := lp.m.LatestCheckpointTime()
	if err := lp.m.AdvanceTime(days); err != nil {
		return nil, err
	}
	var md model.MarketDeltas
	if !apr.IsZero() {
		if md, err = lp.m.AccrueInterest(apr, days); err != nil {
			return nil, err
		}
	}
	step := lp.pool.Params.CheckpointDays
	latest := lp.m.LatestCheckpointTime()
	for t := prev.Add(step); t.Le(latest); t = t.Add(step) {
		if err := lp.m.Checkpoint(t); err != nil {
			return nil, err
		}
	}
	if err := s.persist(ctx, lp, model.ActionAdvanceTime, days, md); err != nil {
		return nil, err
	}
	slog.Info("time advanced",
		"pool_id", poolID,
		"days", days.String(),
		"variable_apr", apr.String(),
		"block_time", lp.pool.BlockTime.String(),
	)
	pool := lp.pool
	return &pool, nil
}

// persist snapshots a pool after a clock or checkpoint change and records
// it in the ledger under the system agent.
func (s *Service) persist(ctx context.Context, lp *livePool, action model.Action, amount fp, md model.MarketDeltas) error {
	now := time.Now().UTC()
	lp.snapshot(now)
	if err := s.store.UpdatePool(ctx, &lp.pool); err != nil {
		return err
	}
	entry := lp.entry("system", action, amount, lp.m.LatestCheckpointTime(), md, model.WalletDeltas{})
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	lp.record()
	s.broadcast(string(action), &lp.pool, entry)
	return nil
}

// GetPoolHistory handles GET /api/v1/pools/{poolID}/history
// Returns the pool's ledger entries in execution order.
func (s *Service) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetLedgerEntriesByPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "failed to get pool history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetWallets handles GET /api/v1/wallets/{agentID}
// Returns the agent's wallets across pools.
func (s *Service) GetWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.GetWalletsByAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, "failed to load wallets", http.StatusInternalServerError)
		return
	}
	if wallets == nil {
		wallets = []model.Wallet{}
	}
	writeJSON(w, http.StatusOK, wallets)
}

// --- Live pools ---

// load returns the live pool, restoring it from its snapshot if needed.
func (s *Service) load(ctx context.Context, poolID string) (*livePool, error) {
	s.mu.Lock()
	lp, ok := s.pools[poolID]
	s.mu.Unlock()
	if ok {
		return lp, nil
	}

	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	pm, err := config.Preset{PricingModel: pool.Params.PricingModel, Pricing: poolPricing(pool.Params)}.Model()
	if err != nil {
		return nil, err
	}
	m, err := market.Restore(poolConfig(pool), pm, pool.State, pool.BlockTime)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pools[poolID]; ok {
		return existing, nil
	}
	lp = &livePool{m: m, pool: *pool}
	s.pools[poolID] = lp
	metrics.ActivePools.Inc()
	return lp, nil
}

func poolPricing(p model.PoolParams) pricing.Config {
	return pricing.Config{
		WEI:                   p.WEI,
		PrecisionThreshold:    p.PrecisionThreshold,
		MaxReservesDifference: p.MaxReservesDifference,
	}
}

func poolConfig(p *model.Pool) market.Config {
	return market.Config{
		TermDays:              p.Params.TermDays,
		CheckpointDays:        p.Params.CheckpointDays,
		TimeStretch:           p.Params.TimeStretch,
		CurveFeeMultiple:      p.State.CurveFeeMultiple,
		FlatFeeMultiple:       p.State.FlatFeeMultiple,
		GovernanceFeeMultiple: p.State.GovernanceFeeMultiple,
		InitSharePrice:        p.State.InitSharePrice,
		SharePrice:            p.State.SharePrice,
		Pricing:               poolPricing(p.Params),
	}
}

// snapshot copies the market's current state into the pool record.
func (lp *livePool) snapshot(now time.Time) {
	lp.pool.State = lp.m.State()
	lp.pool.BlockTime = lp.m.BlockTime()
	lp.pool.SpotPrice, _ = lp.m.SpotPrice()
	lp.pool.FixedAPR, _ = lp.m.FixedAPR()
	lp.pool.UpdatedAt = now
}

func (lp *livePool) entry(agentID string, action model.Action, amount, mint fp, md model.MarketDeltas, wd model.WalletDeltas) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:           uuid.New().String(),
		PoolID:       lp.pool.ID,
		AgentID:      agentID,
		Action:       action,
		Amount:       amount,
		MintTime:     mint,
		BlockTime:    lp.pool.BlockTime,
		SpotPrice:    lp.pool.SpotPrice,
		FixedAPR:     lp.pool.FixedAPR,
		MarketDeltas: md,
		WalletDeltas: wd,
		Timestamp:    lp.pool.UpdatedAt,
	}
}

// record publishes the pool gauges.
func (lp *livePool) record() {
	metrics.GovFeesAccrued.WithLabelValues(lp.pool.ID).Set(lp.pool.State.GovFeesAccrued.Float64())
	if apr := lp.pool.FixedAPR; apr.IsFinite() {
		metrics.FixedAPR.WithLabelValues(lp.pool.ID).Set(apr.Float64())
	}
}

func (s *Service) broadcast(kind string, pool *model.Pool, entry *model.LedgerEntry) {
	if s.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:          kind,
		PoolID:        pool.ID,
		BlockTime:     pool.BlockTime.String(),
		SpotPrice:     pool.SpotPrice.String(),
		FixedAPR:      pool.FixedAPR.String(),
		ShareReserves: pool.State.ShareReserves.String(),
		BondReserves:  pool.State.BondReserves.String(),
	}
	if entry != nil {
		msg.Action = string(entry.Action)
		msg.AgentID = entry.AgentID
		msg.Amount = entry.Amount.String()
	}
	s.wsHub.Broadcast(msg)
}

// --- Errors and encoding ---

func toFP(d decimal.Decimal) (fp, error) {
	v, err := fixedpoint.FromDecimal(d)
	if err != nil {
		return fixedpoint.Zero, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return v, nil
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrOutputLimit),
		errors.Is(err, exposure.ErrCohortLimitExceeded),
		errors.Is(err, exposure.ErrPoolLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, market.ErrInvalidCheckpointTime),
		errors.Is(err, market.ErrInvariantViolation),
		errors.Is(err, market.ErrInvalidArgument),
		errors.Is(err, market.ErrDivisionByZero),
		errors.Is(err, market.ErrOverflow),
		errors.Is(err, market.ErrUnsupportedOption),
		errors.Is(err, market.ErrInvalidConfig),
		errors.Is(err, pricing.ErrUnsupportedToken),
		errors.Is(err, config.ErrUnknownPreset),
		errors.Is(err, config.ErrInvalidPreset),
		errors.Is(err, ErrUnknownAction),
		errors.Is(err, ErrInsufficientPosition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// outcome labels an action result for metrics.
func outcome(err error) string {
	switch status := statusFor(err); {
	case err == nil:
		return "ok"
	case status == http.StatusConflict:
		return "limit"
	case status < http.StatusInternalServerError:
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) observe(action model.Action, start time.Time, err error) {
	metrics.ActionsTotal.WithLabelValues(string(action), outcome(err)).Inc()
	metrics.ActionLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
}

func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
