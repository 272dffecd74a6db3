package model

import (
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
)

// Long is an agent's bond balance for one mint time.
type Long struct {
	Balance fp `json:"balance"`
}

// Short is an agent's short balance for one mint time together with the
// share price it was opened at.
type Short struct {
	Balance        fp `json:"balance"`
	OpenSharePrice fp `json:"open_share_price"`
}

// Wallet is an agent's holdings in one pool. Balance is in base units.
// The market never mutates a wallet; it returns WalletDeltas that the
// owner applies with Update.
type Wallet struct {
	AgentID        string         `json:"agent_id"`
	PoolID         string         `json:"pool_id"`
	Balance        fp             `json:"balance"`
	LPTokens       fp             `json:"lp_tokens"`
	WithdrawShares fp             `json:"withdraw_shares"`
	FeesPaid       fp             `json:"fees_paid"`
	Longs          TimeMap[Long]  `json:"longs"`
	Shorts         TimeMap[Short] `json:"shorts"`
}

// WalletDeltas is the additive change an action makes to a wallet.
type WalletDeltas struct {
	Balance        fp             `json:"balance"`
	LPTokens       fp             `json:"lp_tokens"`
	WithdrawShares fp             `json:"withdraw_shares"`
	FeesPaid       fp             `json:"fees_paid"`
	Longs          TimeMap[Long]  `json:"longs"`
	Shorts         TimeMap[Short] `json:"shorts"`
}

// NewWallet returns a wallet funded with budget base.
func NewWallet(agentID, poolID string, budget fp) *Wallet {
	return &Wallet{AgentID: agentID, PoolID: poolID, Balance: budget}
}

// Update adds d to the wallet. A short keeps the first non-zero open share
// price it was given.
func (w *Wallet) Update(d WalletDeltas) (err error) {
	defer fixedpoint.Recover(&err)

	next := w.Copy()
	next.Balance = next.Balance.Add(d.Balance)
	next.LPTokens = next.LPTokens.Add(d.LPTokens)
	next.WithdrawShares = next.WithdrawShares.Add(d.WithdrawShares)
	next.FeesPaid = next.FeesPaid.Add(d.FeesPaid)
	d.Longs.Range(func(t fp, l Long) bool {
		cur := next.Longs.Get(t)
		next.Longs.Set(t, Long{Balance: cur.Balance.Add(l.Balance)})
		return true
	})
	d.Shorts.Range(func(t fp, s Short) bool {
		cur := next.Shorts.Get(t)
		open := cur.OpenSharePrice
		if open.IsZero() {
			open = s.OpenSharePrice
		}
		next.Shorts.Set(t, Short{Balance: cur.Balance.Add(s.Balance), OpenSharePrice: open})
		return true
	})
	*w = next
	return nil
}

// Copy returns a deep copy of the wallet.
func (w *Wallet) Copy() Wallet {
	out := *w
	out.Longs = w.Longs.Clone()
	out.Shorts = w.Shorts.Clone()
	return out
}

// LongBalance is the open long balance minted at t.
func (w *Wallet) LongBalance(t fp) fp { return w.Longs.Get(t).Balance }

// ShortBalance is the open short balance minted at t.
func (w *Wallet) ShortBalance(t fp) fp { return w.Shorts.Get(t).Balance }
