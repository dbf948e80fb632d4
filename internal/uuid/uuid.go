// Package uuid generates the identifiers carried by pending actions.
// Action IDs double as idempotency keys on every dispatch to the Remote API.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// IdempotencyHeader is the request header carrying an action ID to the Remote API.
const IdempotencyHeader = "Idempotency-Key"

// New generates a new random (v4) action ID.
func New() string {
	return uuid.New().String()
}

// Validate returns an error if s is not a canonical, lower-case v4 UUID.
func Validate(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid action id %q: %w", s, err)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return fmt.Errorf("invalid action id %q: expected RFC 4122 v4", s)
	}
	if id.String() != s {
		return fmt.Errorf("invalid action id %q: not canonical", s)
	}
	return nil
}

// IsValid reports whether s is a valid action ID.
func IsValid(s string) bool {
	return Validate(s) == nil
}
