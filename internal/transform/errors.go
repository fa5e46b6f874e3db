package transform

import (
	"fmt"

	"omopetl/internal/schema"
)

// ConfigError reports malformed or incomplete transformation parameters:
// missing required keys, unknown step types, unknown methods. It is always
// fatal regardless of strictness because the mapping itself is broken.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "transform: " + e.Msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ColumnNotFoundError reports a referenced source column absent from the
// working data. Always fatal.
type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("transform: column %q not found in working data", e.Column)
}

// CastError reports a value that cannot be cast to the declared target type.
// Strict mode only; casual mode skips casting.
type CastError struct {
	Column string
	Type   schema.Type
	Value  any
}

func (e *CastError) Error() string {
	return fmt.Sprintf("transform: cannot cast %v (%T) in column %q to %s", e.Value, e.Value, e.Column, e.Type)
}

// RowMismatchError reports unexpected row-count drift between the input
// table and the assembled output, not attributable to a filter step. Always
// fatal.
type RowMismatchError struct {
	Expected int
	Actual   int
}

func (e *RowMismatchError) Error() string {
	return fmt.Sprintf("transform: row count mismatch after transformations: got %d rows, want %d", e.Actual, e.Expected)
}
