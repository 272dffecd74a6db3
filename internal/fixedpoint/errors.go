package fixedpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrOverflow is returned when a result leaves the signed 256-bit range.
	ErrOverflow = errors.New("fixedpoint: overflow")

	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrInvalidArgument is returned for inputs outside an operation's domain,
	// such as ln of a non-positive number or sqrt of a negative one.
	ErrInvalidArgument = errors.New("fixedpoint: invalid argument")

	// ErrInvalidString is returned when a string does not match the number grammar.
	ErrInvalidString = errors.New("fixedpoint: invalid number string")
)

// Error carries the failing operation alongside one of the sentinel errors.
// FixedPoint operators panic with *Error; Recover turns that back into a
// returned error at API boundaries.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, err error) {
	panic(&Error{Op: op, Err: err})
}

// Recover stops a panic raised by a FixedPoint operator and stores it in
// *errp. Any other panic is re-raised. Use it as:
//
//	defer fixedpoint.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if fe, ok := r.(*Error); ok {
		*errp = fe
		return
	}
	panic(r)
}

// Try runs fn and converts any FixedPoint panic into an error.
func Try(fn func()) (err error) {
	defer Recover(&err)
	fn()
	return nil
}
