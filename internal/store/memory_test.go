package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/hyperdrive-engine/internal/exposure"
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/model"
	"github.com/atmx/hyperdrive-engine/internal/store"
)

func fp(s string) fixedpoint.FixedPoint {
	return fixedpoint.MustParse(s)
}

// --- Pools ---

func TestMemoryStore_PoolNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	if _, err := ms.GetPool(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ms.UpdatePool(context.Background(), &model.Pool{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestMemoryStore_PoolIsCopied(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	p := &model.Pool{ID: "p1", CreatedAt: time.Now()}
	p.State.ShareReserves = fp("100")
	p.State.Checkpoints.Set(fixedpoint.Zero, model.Checkpoint{SharePrice: fixedpoint.One})
	if err := ms.CreatePool(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.State.ShareReserves = fp("1")
	p.State.Checkpoints.Set(fixedpoint.One, model.Checkpoint{SharePrice: fixedpoint.One})

	got, err := ms.GetPool(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.State.ShareReserves.Eq(fp("100")) {
		t.Errorf("stored pool aliased the caller's state: %s", got.State.ShareReserves)
	}
	if got.State.Checkpoints.Len() != 1 {
		t.Errorf("expected 1 checkpoint, got %d", got.State.Checkpoints.Len())
	}
}

func TestMemoryStore_ListPoolsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	now := time.Now()
	ms.CreatePool(ctx, &model.Pool{ID: "old", CreatedAt: now.Add(-time.Hour)})
	ms.CreatePool(ctx, &model.Pool{ID: "new", CreatedAt: now})

	pools, err := ms.ListPools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) != 2 || pools[0].ID != "new" || pools[1].ID != "old" {
		t.Errorf("unexpected order: %+v", pools)
	}
}

// --- Ledger ---

func TestMemoryStore_LedgerByPoolAndAgent(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	entries := []model.LedgerEntry{
		{ID: "1", PoolID: "a", AgentID: "alice", Action: model.ActionOpenLong},
		{ID: "2", PoolID: "b", AgentID: "alice", Action: model.ActionOpenShort},
		{ID: "3", PoolID: "a", AgentID: "bob", Action: model.ActionCloseLong},
	}
	for i := range entries {
		if err := ms.InsertLedgerEntry(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	byPool, _ := ms.GetLedgerEntriesByPool(ctx, "a")
	if len(byPool) != 2 || byPool[0].ID != "1" || byPool[1].ID != "3" {
		t.Errorf("unexpected pool ledger: %+v", byPool)
	}
	byAgent, _ := ms.GetLedgerEntriesByAgent(ctx, "alice")
	if len(byAgent) != 2 || byAgent[0].ID != "1" || byAgent[1].ID != "2" {
		t.Errorf("unexpected agent ledger: %+v", byAgent)
	}
}

// --- Wallets ---

func TestMemoryStore_WalletNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	if _, err := ms.GetWallet(context.Background(), "alice", "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_AgentExposures(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	w1 := model.NewWallet("alice", "p1", fixedpoint.Zero)
	w1.Longs.Set(fixedpoint.Zero, model.Long{Balance: fp("100")})
	w1.Shorts.Set(fixedpoint.Zero, model.Short{Balance: fp("50"), OpenSharePrice: fixedpoint.One})
	w1.Longs.Set(fixedpoint.One, model.Long{Balance: fp("25")})
	w2 := model.NewWallet("alice", "p2", fixedpoint.Zero)
	w2.Shorts.Set(fp("3"), model.Short{Balance: fp("10"), OpenSharePrice: fixedpoint.One})
	other := model.NewWallet("bob", "p1", fixedpoint.Zero)
	other.Longs.Set(fixedpoint.Zero, model.Long{Balance: fp("999")})

	for _, w := range []*model.Wallet{w1, w2, other} {
		if err := ms.SaveWallet(ctx, w); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ms.GetAgentExposures(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		exposure.CohortKey("p1", fixedpoint.Zero.String()): "150",
		exposure.CohortKey("p1", fixedpoint.One.String()):  "25",
		exposure.CohortKey("p2", fp("3").String()):         "10",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d cohorts, got %v", len(want), got)
	}
	for key, v := range want {
		if got[key].String() != v {
			t.Errorf("%s: expected %s, got %s", key, v, got[key])
		}
	}
}
