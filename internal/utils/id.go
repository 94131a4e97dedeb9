package utils

import "github.com/google/uuid"

// NewID returns a random identifier suitable for connection and correlation ids.
func NewID() string {
	return uuid.NewString()
}
