package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/hyperdrive-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	pools   map[string]*model.Pool
	ledger  []model.LedgerEntry
	wallets map[string]*model.Wallet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   make(map[string]*model.Pool),
		wallets: make(map[string]*model.Wallet),
	}
}

func copyPool(p *model.Pool) *model.Pool {
	out := *p
	out.State = p.State.Copy()
	return &out
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; ok {
		return fmt.Errorf("pool %s already exists", p.ID)
	}
	s.pools[p.ID] = copyPool(p)
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return copyPool(p), nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *copyPool(p))
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].CreatedAt.After(pools[j].CreatedAt) })
	return pools, nil
}

func (s *MemoryStore) UpdatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[p.ID]; !ok {
		return fmt.Errorf("pool %s: %w", p.ID, ErrNotFound)
	}
	s.pools[p.ID] = copyPool(p)
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByPool(_ context.Context, poolID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByAgent(_ context.Context, agentID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.AgentID == agentID {
			result = append(result, e)
		}
	}
	return result, nil
}

func walletKey(agentID, poolID string) string { return agentID + "/" + poolID }

func (s *MemoryStore) SaveWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := w.Copy()
	s.wallets[walletKey(w.AgentID, w.PoolID)] = &c
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, agentID, poolID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletKey(agentID, poolID)]
	if !ok {
		return nil, fmt.Errorf("wallet %s in pool %s: %w", agentID, poolID, ErrNotFound)
	}
	c := w.Copy()
	return &c, nil
}

func (s *MemoryStore) GetWalletsByAgent(_ context.Context, agentID string) ([]model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Wallet
	for _, w := range s.wallets {
		if w.AgentID == agentID {
			out = append(out, w.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out, nil
}

func (s *MemoryStore) GetAgentExposures(ctx context.Context, agentID string) (map[string]decimal.Decimal, error) {
	wallets, err := s.GetWalletsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return walletExposures(wallets)
}
