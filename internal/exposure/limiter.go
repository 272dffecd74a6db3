// Package exposure caps how many bonds one agent may hold open in a pool.
//
// Positions are grouped into cohorts by pool and mint time. A limiter
// enforces a cap on each cohort and an aggregate cap across all cohorts of
// the same pool, where longs and shorts both count as exposure.
package exposure

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCohortLimitExceeded is returned when a trade would push one
	// cohort's open bonds beyond the per-cohort maximum.
	ErrCohortLimitExceeded = errors.New("exposure: cohort limit exceeded")

	// ErrPoolLimitExceeded is returned when a trade would push the sum of
	// open bonds across a pool's cohorts beyond the pool maximum.
	ErrPoolLimitExceeded = errors.New("exposure: pool limit exceeded")
)

// Limiter enforces bond exposure caps. A zero cap disables that check.
type Limiter struct {
	MaxPerCohort decimal.Decimal
	MaxPerPool   decimal.Decimal
}

// NewLimiter creates a limiter with the given cohort and pool caps.
func NewLimiter(maxPerCohort, maxPerPool decimal.Decimal) *Limiter {
	return &Limiter{MaxPerCohort: maxPerCohort, MaxPerPool: maxPerPool}
}

// CohortKey names the cohort of positions minted in poolID at mint.
func CohortKey(poolID, mint string) string {
	return poolID + "/" + mint
}

func poolOf(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

// CheckLimit validates a trade that adds delta bonds to the cohort target.
// existing maps cohort keys to the agent's current open bonds.
func (l *Limiter) CheckLimit(target string, delta decimal.Decimal, existing map[string]decimal.Decimal) error {
	next := existing[target].Add(delta).Abs()
	if l.MaxPerCohort.IsPositive() && next.GreaterThan(l.MaxPerCohort) {
		return ErrCohortLimitExceeded
	}

	pool := poolOf(target)
	total := next
	for key, v := range existing {
		if key == target {
			continue
		}
		if poolOf(key) == pool {
			total = total.Add(v.Abs())
		}
	}
	if l.MaxPerPool.IsPositive() && total.GreaterThan(l.MaxPerPool) {
		return ErrPoolLimitExceeded
	}
	return nil
}
