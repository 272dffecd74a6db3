package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolKey(p.ID), p)
	return nil
}

func (s *CachedStore) UpdatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.UpdatePool(ctx, p); err != nil {
		return err
	}
	s.cache(ctx, poolKey(p.ID), p)
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(entry.AgentID))
	return nil
}

func (s *CachedStore) SaveWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.SaveWallet(ctx, w); err != nil {
		return err
	}
	s.rdb.Del(ctx, walletsKey(w.AgentID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	var p model.Pool
	if s.lookup(ctx, poolKey(id), &p) {
		return &p, nil
	}
	got, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(id), got)
	return got, nil
}

func (s *CachedStore) GetLedgerEntriesByAgent(ctx context.Context, agentID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	if s.lookup(ctx, ledgerKey(agentID), &entries) {
		return entries, nil
	}
	entries, err := s.primary.GetLedgerEntriesByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, ledgerKey(agentID), entries)
	return entries, nil
}

func (s *CachedStore) GetWalletsByAgent(ctx context.Context, agentID string) ([]model.Wallet, error) {
	var wallets []model.Wallet
	if s.lookup(ctx, walletsKey(agentID), &wallets) {
		return wallets, nil
	}
	wallets, err := s.primary.GetWalletsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, walletsKey(agentID), wallets)
	return wallets, nil
}

func (s *CachedStore) GetAgentExposures(ctx context.Context, agentID string) (map[string]decimal.Decimal, error) {
	wallets, err := s.GetWalletsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return walletExposures(wallets)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetLedgerEntriesByPool(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByPool(ctx, poolID)
}

// GetWallet is read from the primary: the service reads a wallet right
// before updating it.
func (s *CachedStore) GetWallet(ctx context.Context, agentID, poolID string) (*model.Wallet, error) {
	return s.primary.GetWallet(ctx, agentID, poolID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func poolKey(id string) string { return fmt.Sprintf("pool:%s", id) }
func ledgerKey(agent string) string { return fmt.Sprintf("ledger:%s", agent) }
func walletsKey(agent string) string { return fmt.Sprintf("wallets:%s", agent) }
