package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for mesh records.
func NewID() string { return uuid.NewString() }
