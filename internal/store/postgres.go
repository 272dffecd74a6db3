package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The full pool state is kept as a JSONB snapshot; headline figures are
// mirrored into NUMERIC columns for exact decimal queries.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS pools (
	id              TEXT PRIMARY KEY,
	params          JSONB NOT NULL,
	block_time      NUMERIC NOT NULL,
	share_reserves  NUMERIC NOT NULL,
	bond_reserves   NUMERIC NOT NULL,
	lp_total_supply NUMERIC NOT NULL,
	share_price     NUMERIC NOT NULL,
	spot_price      NUMERIC,
	fixed_apr       NUMERIC,
	state           JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id            TEXT PRIMARY KEY,
	pool_id       TEXT NOT NULL REFERENCES pools(id),
	agent_id      TEXT NOT NULL,
	action        TEXT NOT NULL,
	amount        NUMERIC NOT NULL,
	mint_time     NUMERIC NOT NULL,
	block_time    NUMERIC NOT NULL,
	spot_price    NUMERIC,
	fixed_apr     NUMERIC,
	market_deltas JSONB NOT NULL,
	wallet_deltas JSONB NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_pool_idx ON ledger_entries (pool_id, timestamp);
CREATE INDEX IF NOT EXISTS ledger_entries_agent_idx ON ledger_entries (agent_id, timestamp);

CREATE TABLE IF NOT EXISTS wallets (
	agent_id        TEXT NOT NULL,
	pool_id         TEXT NOT NULL REFERENCES pools(id),
	balance         NUMERIC NOT NULL,
	lp_tokens       NUMERIC NOT NULL,
	withdraw_shares NUMERIC NOT NULL,
	fees_paid       NUMERIC NOT NULL,
	positions       JSONB NOT NULL,
	PRIMARY KEY (agent_id, pool_id)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// numeric renders x for a NUMERIC column. Non-finite values become NULL.
func numeric(x fixedpoint.FixedPoint) *string {
	d, err := x.Decimal()
	if err != nil {
		return nil
	}
	str := d.String()
	return &str
}

// fromNumeric parses a NUMERIC::TEXT column. NULL reads back as nan.
func fromNumeric(s *string) (fixedpoint.FixedPoint, error) {
	if s == nil {
		return fixedpoint.NaN(), nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return fixedpoint.FixedPoint{}, err
	}
	return fixedpoint.FromDecimal(d)
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return err
	}
	state, err := json.Marshal(p.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pools (id, params, block_time, share_reserves, bond_reserves, lp_total_supply,
		                    share_price, spot_price, fixed_apr, state, created_at, updated_at)
		 VALUES ($1, $2::JSONB, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::JSONB, $11, $12)`,
		p.ID, string(params), numeric(p.BlockTime),
		numeric(p.State.ShareReserves), numeric(p.State.BondReserves), numeric(p.State.LPTotalSupply),
		numeric(p.State.SharePrice), numeric(p.SpotPrice), numeric(p.FixedAPR),
		string(state), p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdatePool(ctx context.Context, p *model.Pool) error {
	state, err := json.Marshal(p.State)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pools
		 SET block_time = $2::NUMERIC, share_reserves = $3::NUMERIC, bond_reserves = $4::NUMERIC,
		     lp_total_supply = $5::NUMERIC, share_price = $6::NUMERIC,
		     spot_price = $7::NUMERIC, fixed_apr = $8::NUMERIC,
		     state = $9::JSONB, updated_at = $10
		 WHERE id = $1`,
		p.ID, numeric(p.BlockTime),
		numeric(p.State.ShareReserves), numeric(p.State.BondReserves), numeric(p.State.LPTotalSupply),
		numeric(p.State.SharePrice), numeric(p.SpotPrice), numeric(p.FixedAPR),
		string(state), p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

const poolColumns = `id, params, block_time::TEXT, spot_price::TEXT, fixed_apr::TEXT, state, created_at, updated_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var params, state []byte
	var blockTime, spot, apr *string
	if err := row.Scan(&p.ID, &params, &blockTime, &spot, &apr, &state, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &p.Params); err != nil {
		return nil, fmt.Errorf("pool %s params: %w", p.ID, err)
	}
	if err := json.Unmarshal(state, &p.State); err != nil {
		return nil, fmt.Errorf("pool %s state: %w", p.ID, err)
	}
	var err error
	if p.BlockTime, err = fromNumeric(blockTime); err != nil {
		return nil, err
	}
	if p.SpotPrice, err = fromNumeric(spot); err != nil {
		return nil, err
	}
	if p.FixedAPR, err = fromNumeric(apr); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	md, err := json.Marshal(e.MarketDeltas)
	if err != nil {
		return err
	}
	wd, err := json.Marshal(e.WalletDeltas)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, pool_id, agent_id, action, amount, mint_time, block_time,
		                             spot_price, fixed_apr, market_deltas, wallet_deltas, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9::NUMERIC, $10::JSONB, $11::JSONB, $12)`,
		e.ID, e.PoolID, e.AgentID, string(e.Action),
		numeric(e.Amount), numeric(e.MintTime), numeric(e.BlockTime),
		numeric(e.SpotPrice), numeric(e.FixedAPR),
		string(md), string(wd), e.Timestamp,
	)
	return err
}

const ledgerColumns = `id, pool_id, agent_id, action, amount::TEXT, mint_time::TEXT, block_time::TEXT,
	spot_price::TEXT, fixed_apr::TEXT, market_deltas, wallet_deltas, timestamp`

func (s *PostgresStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE pool_id = $1 ORDER BY timestamp`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByAgent(ctx context.Context, agentID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE agent_id = $1 ORDER BY timestamp`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var action string
		var amount, mint, block, spot, apr *string
		var md, wd []byte

		if err := rows.Scan(&e.ID, &e.PoolID, &e.AgentID, &action,
			&amount, &mint, &block, &spot, &apr, &md, &wd, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = model.Action(action)
		for _, f := range []struct {
			dst *fixedpoint.FixedPoint
			src *string
		}{
			{&e.Amount, amount}, {&e.MintTime, mint}, {&e.BlockTime, block},
			{&e.SpotPrice, spot}, {&e.FixedAPR, apr},
		} {
			v, err := fromNumeric(f.src)
			if err != nil {
				return nil, fmt.Errorf("ledger entry %s: %w", e.ID, err)
			}
			*f.dst = v
		}
		if err := json.Unmarshal(md, &e.MarketDeltas); err != nil {
			return nil, fmt.Errorf("ledger entry %s market deltas: %w", e.ID, err)
		}
		if err := json.Unmarshal(wd, &e.WalletDeltas); err != nil {
			return nil, fmt.Errorf("ledger entry %s wallet deltas: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// positions is the JSONB form of a wallet's open positions.
type positions struct {
	Longs  model.TimeMap[model.Long]  `json:"longs"`
	Shorts model.TimeMap[model.Short] `json:"shorts"`
}

func (s *PostgresStore) SaveWallet(ctx context.Context, w *model.Wallet) error {
	pos, err := json.Marshal(positions{Longs: w.Longs, Shorts: w.Shorts})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO wallets (agent_id, pool_id, balance, lp_tokens, withdraw_shares, fees_paid, positions)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::JSONB)
		 ON CONFLICT (agent_id, pool_id) DO UPDATE
		 SET balance = EXCLUDED.balance, lp_tokens = EXCLUDED.lp_tokens,
		     withdraw_shares = EXCLUDED.withdraw_shares, fees_paid = EXCLUDED.fees_paid,
		     positions = EXCLUDED.positions`,
		w.AgentID, w.PoolID,
		numeric(w.Balance), numeric(w.LPTokens), numeric(w.WithdrawShares), numeric(w.FeesPaid),
		string(pos),
	)
	return err
}

const walletColumns = `agent_id, pool_id, balance::TEXT, lp_tokens::TEXT, withdraw_shares::TEXT, fees_paid::TEXT, positions`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	var balance, lp, ws, fees *string
	var pos []byte
	if err := row.Scan(&w.AgentID, &w.PoolID, &balance, &lp, &ws, &fees, &pos); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *fixedpoint.FixedPoint
		src *string
	}{
		{&w.Balance, balance}, {&w.LPTokens, lp}, {&w.WithdrawShares, ws}, {&w.FeesPaid, fees},
	} {
		v, err := fromNumeric(f.src)
		if err != nil {
			return nil, fmt.Errorf("wallet %s/%s: %w", w.AgentID, w.PoolID, err)
		}
		*f.dst = v
	}
	var p positions
	if err := json.Unmarshal(pos, &p); err != nil {
		return nil, fmt.Errorf("wallet %s/%s positions: %w", w.AgentID, w.PoolID, err)
	}
	w.Longs, w.Shorts = p.Longs, p.Shorts
	return &w, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, agentID, poolID string) (*model.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE agent_id = $1 AND pool_id = $2`, agentID, poolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s in pool %s: %w", agentID, poolID, ErrNotFound)
	}
	return w, err
}

func (s *PostgresStore) GetWalletsByAgent(ctx context.Context, agentID string) ([]model.Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE agent_id = $1 ORDER BY pool_id`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAgentExposures(ctx context.Context, agentID string) (map[string]decimal.Decimal, error) {
	wallets, err := s.GetWalletsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return walletExposures(wallets)
}
