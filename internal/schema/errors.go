package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for metadata failure categories
var (
	ErrConnectionLost     = errors.New("connection lost")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// ErrorCategory classifies a metadata failure
type ErrorCategory int

const (
	ConnectionLost ErrorCategory = iota + 1
	PermissionDenied
	UnsupportedFeature
)

func (c ErrorCategory) String() string {
	switch c {
	case ConnectionLost:
		return "ConnectionLost"
	case PermissionDenied:
		return "PermissionDenied"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	default:
		return "Unknown"
	}
}

func (c ErrorCategory) sentinel() error {
	switch c {
	case ConnectionLost:
		return ErrConnectionLost
	case PermissionDenied:
		return ErrPermissionDenied
	case UnsupportedFeature:
		return ErrUnsupportedFeature
	default:
		return nil
	}
}

// MetadataError is returned when catalog access fails or a construct
// cannot be normalized. errors.Is matches both the category sentinel and
// the wrapped driver error.
type MetadataError struct {
	Category  ErrorCategory
	Table     string // empty for database-level failures
	Construct string // offending construct, e.g. an index name
	Err       error
}

func (e *MetadataError) Error() string {
	msg := "metadata error"
	if s := e.Category.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Table != "" {
		msg = fmt.Sprintf("%s: table %s", msg, e.Table)
	}
	if e.Construct != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Construct)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Is matches the category sentinel
func (e *MetadataError) Is(target error) bool {
	s := e.Category.sentinel()
	return s != nil && target == s
}

// Unsupported builds an UnsupportedFeature error for a construct
func Unsupported(table, construct, format string, args ...any) *MetadataError {
	return &MetadataError{
		Category:  UnsupportedFeature,
		Table:     table,
		Construct: construct,
		Err:       fmt.Errorf(format, args...),
	}
}

// TableWarning records a table that was left out of a snapshot
type TableWarning struct {
	Table string
	Err   *MetadataError
}

func (w TableWarning) String() string {
	return fmt.Sprintf("skipped table %s: %v", w.Table, w.Err)
}
