package util

import "github.com/google/uuid"

// NewID returns a fresh server-assigned identifier.
func NewID() string {
	return uuid.NewString()
}
