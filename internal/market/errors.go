package market

import (
	"errors"
	"fmt"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/pricing"
)

var (
	ErrInvalidCheckpointTime = errors.New("market: invalid checkpoint time")
	ErrOutputLimit           = errors.New("market: output limit exceeded")
	ErrUnsupportedOption     = errors.New("market: unsupported option")
	ErrInvalidConfig         = errors.New("market: invalid config")

	// ErrInvariantViolation is shared with the pricing assertions so one
	// errors.Is check covers both layers.
	ErrInvariantViolation = pricing.ErrInvariantViolation

	ErrOverflow        = fixedpoint.ErrOverflow
	ErrDivisionByZero  = fixedpoint.ErrDivisionByZero
	ErrInvalidArgument = fixedpoint.ErrInvalidArgument
)

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}
