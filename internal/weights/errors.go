package weights

import (
	"errors"
	"fmt"
)

var (
	// ErrHeaderTooLarge is returned when the declared header exceeds MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
	// ErrUnsupportedDType is returned for tensors that are not F32.
	ErrUnsupportedDType = errors.New("unsupported dtype")
	// ErrStateMismatch is returned by a strict load whose names do not
	// match the module's parameters.
	ErrStateMismatch = errors.New("state dict does not match module parameters")
)

// ValidationError describes a malformed file.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string
	Tensor2 string // second tensor of an overlap
	Details string
}

func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
