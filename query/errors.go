package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInputShape is matched by every input-boundary failure.
	ErrInvalidInputShape = errors.New("invalid input shape")
	// ErrUnknownTable is returned when an output table name is not one of
	// TableDaily, TableCategories or TableRFM.
	ErrUnknownTable = errors.New("unknown table")
)

// ShapeError describes a missing, mistyped or null required column.
type ShapeError struct {
	Column string
	Reason string
	// Row is the 1-based offending row, or 0 when the whole column is at
	// fault.
	Row int
}

func (e *ShapeError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%v: column %q row %d: %s", ErrInvalidInputShape, e.Column, e.Row, e.Reason)
	}
	return fmt.Sprintf("%v: column %q: %s", ErrInvalidInputShape, e.Column, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidInputShape) true for any ShapeError.
func (e *ShapeError) Is(target error) bool {
	return target == ErrInvalidInputShape
}
