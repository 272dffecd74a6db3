// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/exposure"
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool operations ---

	// CreatePool persists a new pool snapshot.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool snapshot by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pool snapshots.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// UpdatePool replaces a pool snapshot after an action.
	UpdatePool(ctx context.Context, pool *model.Pool) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable action record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByPool returns all actions on a pool in order.
	GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByAgent returns all actions by an agent in order.
	GetLedgerEntriesByAgent(ctx context.Context, agentID string) ([]model.LedgerEntry, error)

	// --- Wallets ---

	// SaveWallet upserts an agent's wallet in one pool.
	SaveWallet(ctx context.Context, w *model.Wallet) error

	// GetWallet returns the agent's wallet in a pool, or ErrNotFound.
	GetWallet(ctx context.Context, agentID, poolID string) (*model.Wallet, error)

	// GetWalletsByAgent returns the agent's wallets across pools.
	GetWalletsByAgent(ctx context.Context, agentID string) ([]model.Wallet, error)

	// GetAgentExposures returns open bonds per cohort (see exposure.CohortKey).
	GetAgentExposures(ctx context.Context, agentID string) (map[string]decimal.Decimal, error)
}

// walletExposures sums long and short balances per cohort.
func walletExposures(wallets []model.Wallet) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	add := func(poolID string, mint, amount fixedpoint.FixedPoint) error {
		if amount.IsZero() {
			return nil
		}
		d, err := amount.Decimal()
		if err != nil {
			return err
		}
		key := exposure.CohortKey(poolID, mint.String())
		out[key] = out[key].Add(d.Abs())
		return nil
	}
	for _, w := range wallets {
		var err error
		w.Longs.Range(func(t fixedpoint.FixedPoint, l model.Long) bool {
			err = add(w.PoolID, t, l.Balance)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		w.Shorts.Range(func(t fixedpoint.FixedPoint, s model.Short) bool {
			err = add(w.PoolID, t, s.Balance)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
