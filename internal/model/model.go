// Package model defines the core domain types shared across the engine:
// pool state and deltas, wallets, and the records persisted by the store.
// All amounts are FixedPoint; float64 never carries money.
package model

import "time"

// TokenType tags which asset an amount denotes.
type TokenType string

const (
	TokenBase TokenType = "base"
	TokenBond TokenType = "pt"
)

// Quantity is an amount tagged with its unit.
type Quantity struct {
	Amount fp        `json:"amount"`
	Unit   TokenType `json:"unit"`
}

func Base(amount fp) Quantity { return Quantity{Amount: amount, Unit: TokenBase} }
func Bond(amount fp) Quantity { return Quantity{Amount: amount, Unit: TokenBond} }

// Action names the market operations recorded in the ledger.
type Action string

const (
	ActionInitialize           Action = "initialize"
	ActionOpenLong             Action = "open_long"
	ActionCloseLong            Action = "close_long"
	ActionOpenShort            Action = "open_short"
	ActionCloseShort           Action = "close_short"
	ActionAddLiquidity         Action = "add_liquidity"
	ActionRemoveLiquidity      Action = "remove_liquidity"
	ActionRedeemWithdrawShares Action = "redeem_withdraw_shares"
	ActionCheckpoint           Action = "checkpoint"
	ActionAdvanceTime          Action = "advance_time"
)

// PoolParams are the fixed parameters a pool is created with.
type PoolParams struct {
	Preset                string `json:"preset"`
	PricingModel          string `json:"pricing_model"`
	TermDays              fp     `json:"term_days"`
	CheckpointDays        fp     `json:"checkpoint_days"`
	TimeStretch           fp     `json:"time_stretch"`
	TargetAPR             fp     `json:"target_apr"`
	WEI                   fp     `json:"wei"`
	PrecisionThreshold    fp     `json:"precision_threshold"`
	MaxReservesDifference fp     `json:"max_reserves_difference"`
}

// Pool is the persisted snapshot of one market.
type Pool struct {
	ID        string      `json:"id" db:"id"`
	Params    PoolParams  `json:"params" db:"params"`
	BlockTime fp          `json:"block_time" db:"block_time"`
	State     MarketState `json:"state" db:"state"`
	SpotPrice fp          `json:"spot_price" db:"spot_price"`
	FixedAPR  fp          `json:"fixed_apr" db:"fixed_apr"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one executed action.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID           string       `json:"id" db:"id"`
	PoolID       string       `json:"pool_id" db:"pool_id"`
	AgentID      string       `json:"agent_id" db:"agent_id"`
	Action       Action       `json:"action" db:"action"`
	Amount       fp           `json:"amount" db:"amount"`
	MintTime     fp           `json:"mint_time" db:"mint_time"`
	BlockTime    fp           `json:"block_time" db:"block_time"`
	SpotPrice    fp           `json:"spot_price" db:"spot_price"`
	FixedAPR     fp           `json:"fixed_apr" db:"fixed_apr"`
	MarketDeltas MarketDeltas `json:"market_deltas" db:"market_deltas"`
	WalletDeltas WalletDeltas `json:"wallet_deltas" db:"wallet_deltas"`
	Timestamp    time.Time    `json:"timestamp" db:"timestamp"`
}

// MaxTrade is the largest long and short the pool can currently absorb.
type MaxTrade struct {
	LongBase   fp `json:"long_base"`
	LongBonds  fp `json:"long_bonds"`
	ShortBonds fp `json:"short_bonds"`
	ShortBase  fp `json:"short_base"`
}
