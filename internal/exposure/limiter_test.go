package exposure

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	l := NewLimiter(d(1000), d(5000))
	if err := l.CheckLimit(CohortKey("pool-a", "0.0"), d(100), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_CohortExceeded(t *testing.T) {
	l := NewLimiter(d(1000), d(5000))
	key := CohortKey("pool-a", "0.0")
	existing := map[string]decimal.Decimal{key: d(950)}

	if err := l.CheckLimit(key, d(100), existing); !errors.Is(err, ErrCohortLimitExceeded) {
		t.Errorf("expected ErrCohortLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ReducingIsAllowed(t *testing.T) {
	l := NewLimiter(d(1000), d(5000))
	key := CohortKey("pool-a", "0.0")
	existing := map[string]decimal.Decimal{key: d(900)}

	if err := l.CheckLimit(key, d(-500), existing); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PoolExceeded(t *testing.T) {
	l := NewLimiter(d(1000), d(2000))
	existing := map[string]decimal.Decimal{
		CohortKey("pool-a", "0.0"): d(800),
		CohortKey("pool-a", "1.0"): d(800),
		CohortKey("pool-b", "0.0"): d(900),
	}

	// 800 + 800 + 500 = 2100 > 2000; pool-b does not count.
	if err := l.CheckLimit(CohortKey("pool-a", "2.0"), d(500), existing); !errors.Is(err, ErrPoolLimitExceeded) {
		t.Errorf("expected ErrPoolLimitExceeded, got %v", err)
	}
	if err := l.CheckLimit(CohortKey("pool-b", "2.0"), d(500), existing); err != nil {
		t.Errorf("pool-b: expected no error, got %v", err)
	}
}

func TestCheckLimit_ZeroCapDisables(t *testing.T) {
	l := NewLimiter(decimal.Zero, decimal.Zero)
	if err := l.CheckLimit(CohortKey("pool-a", "0.0"), d(1e12), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestPoolOf(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{CohortKey("pool-a", "0.0"), "pool-a"},
		{CohortKey("a/b", "3.0"), "a/b"},
		{"bare", "bare"},
	}
	for _, tc := range tests {
		if got := poolOf(tc.key); got != tc.want {
			t.Errorf("poolOf(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}
