package rowdiff

import (
	"errors"
	"fmt"
)

var (
	ErrNoPrimaryKey        = errors.New("table has no primary key")
	ErrKeyMismatch         = errors.New("source and target primary keys differ")
	ErrOrderingViolation   = errors.New("rows are not in ascending primary key order")
	ErrCancelled           = errors.New("comparison cancelled")
	ErrChangeLimitExceeded = errors.New("change limit exceeded")
)

// OrderingError reports a cursor that yielded a key not strictly greater than
// the one before it.
type OrderingError struct {
	Table    string
	Side     string
	Previous []any
	Current  []any
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s: %s row key %v follows %v", ErrOrderingViolation, e.Side, e.Current, e.Previous)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrderingViolation
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
