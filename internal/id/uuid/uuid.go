// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings. Time-ordered (v7) IDs suit build IDs; random (v4) IDs
// suit short suffixes, whose leading characters must not repeat between calls.
type Generator struct {
	random bool
}

// New creates a Generator producing UUID v7 strings.
func New() *Generator {
	return &Generator{}
}

// NewRandom creates a Generator producing UUID v4 strings.
func NewRandom() *Generator {
	return &Generator{random: true}
}

// NewID returns a UUID string.
func (g Generator) NewID() (string, error) {
	if g.random {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("generate uuid4: %w", err)
		}
		return id.String(), nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
