package progression

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no progression profile exists for the user.
	ErrNotFound = errors.New("progression profile not found")

	// ErrExists reports an attempt to provision a profile twice.
	ErrExists = errors.New("progression profile already exists")

	// ErrDuplicateReference reports a ledger insert that collided on the
	// unique reference. Stores surface it so the crediting loop can treat
	// the level as already credited; it never reaches API callers.
	ErrDuplicateReference = errors.New("duplicate ledger reference")
)

// ValidationError rejects malformed input before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
