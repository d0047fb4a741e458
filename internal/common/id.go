package common

import (
	"github.com/google/uuid"
)

// NewID generates a lowercase uuid used as an entity identifier
func NewID() string {
	return uuid.New().String()
}

// NewCorrelationID generates a correlation id for request and job tracing
func NewCorrelationID() string {
	return uuid.New().String()
}
