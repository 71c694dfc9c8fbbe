package factory

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped) by the builder.
var (
	// ErrUnknownLayer is returned for a type tag with no registered builder.
	ErrUnknownLayer = errors.New("unknown layer type")

	// ErrRank is returned when the current shape has the wrong rank for a layer.
	ErrRank = errors.New("incompatible input rank")

	// ErrParam is returned for missing, malformed or inconsistent parameters.
	ErrParam = errors.New("invalid layer parameter")
)

// LayerError attributes an error to one entry of the layer list.
type LayerError struct {
	Index int
	Type  string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

func paramErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParam, fmt.Sprintf(format, args...))
}

func rankErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRank, fmt.Sprintf(format, args...))
}
