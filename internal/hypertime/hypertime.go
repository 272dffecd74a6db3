// Package hypertime converts day counts into the normalized and stretched
// trade times used by the pricing curve, and provides the checkpoint clock
// helpers shared by the market.
//
// All times are FixedPoint day counts measured from pool creation.
package hypertime

import (
	"errors"
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
)

var (
	ErrInvalidStretch = errors.New("hypertime: time stretch and normalizing constant must be positive")
	ErrNegativeDays   = errors.New("hypertime: days must be non-negative")
	ErrMintInFuture   = errors.New("hypertime: mint time is after the current time")
)

// DaysPerYear is the day-count convention used to annualize rates.
var DaysPerYear = fixedpoint.FromInt(365)

// StretchedTime is a day count together with the pool's time stretch and
// normalizing constant (the term length in days).
type StretchedTime struct {
	Days                fixedpoint.FixedPoint `json:"days"`
	TimeStretch         fixedpoint.FixedPoint `json:"time_stretch"`
	NormalizingConstant fixedpoint.FixedPoint `json:"normalizing_constant"`
}

// NewStretchedTime validates its inputs so the derived ratios never divide
// by zero.
func NewStretchedTime(days, timeStretch, normalizingConstant fixedpoint.FixedPoint) (StretchedTime, error) {
	if !timeStretch.IsPositive() || !normalizingConstant.IsPositive() ||
		!timeStretch.IsFinite() || !normalizingConstant.IsFinite() {
		return StretchedTime{}, fmt.Errorf("%w: stretch=%s normalizing=%s", ErrInvalidStretch, timeStretch, normalizingConstant)
	}
	if days.IsNegative() || days.IsNaN() {
		return StretchedTime{}, fmt.Errorf("%w: %s", ErrNegativeDays, days)
	}
	return StretchedTime{Days: days, TimeStretch: timeStretch, NormalizingConstant: normalizingConstant}, nil
}

// NormalizedTime is days / normalizing_constant.
func (s StretchedTime) NormalizedTime() fixedpoint.FixedPoint {
	return s.Days.Div(s.NormalizingConstant)
}

// Stretched is normalized_time / time_stretch.
func (s StretchedTime) Stretched() fixedpoint.FixedPoint {
	return s.NormalizedTime().Div(s.TimeStretch)
}

// Years annualizes the day count.
func (s StretchedTime) Years() fixedpoint.FixedPoint {
	return s.Days.Div(DaysPerYear)
}

// WithDays returns a copy with a different day count.
func (s StretchedTime) WithDays(days fixedpoint.FixedPoint) StretchedTime {
	s.Days = days
	return s
}

// FullTerm is the time remaining for a freshly minted position.
func (s StretchedTime) FullTerm() StretchedTime {
	return s.WithDays(s.NormalizingConstant)
}

func (s StretchedTime) String() string {
	return fmt.Sprintf("StretchedTime(days=%s, normalized=%s, stretch=%s)", s.Days, s.NormalizedTime(), s.TimeStretch)
}

// DaysRemaining is max(term - (now - mint), 0).
func DaysRemaining(now, mint, term fixedpoint.FixedPoint) (fixedpoint.FixedPoint, error) {
	if mint.Gt(now) {
		return fixedpoint.Zero, fmt.Errorf("%w: mint=%s now=%s", ErrMintInFuture, mint, now)
	}
	return fixedpoint.Max(term.Sub(now.Sub(mint)), fixedpoint.Zero), nil
}

// NormalizedElapsed is (now - mint) / term clamped to [0, 1].
func NormalizedElapsed(now, mint, term fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	elapsed := now.Sub(mint).Div(term)
	return fixedpoint.Min(fixedpoint.Max(elapsed, fixedpoint.Zero), fixedpoint.One)
}

// LatestCheckpoint rounds now down to a multiple of duration.
func LatestCheckpoint(now, duration fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	return now.Sub(now.Mod(duration))
}

// IsCheckpoint reports whether t is an exact multiple of duration.
func IsCheckpoint(t, duration fixedpoint.FixedPoint) bool {
	return t.Mod(duration).IsZero()
}
