// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings, so run IDs sort by start.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Resolve returns explicit when it parses as a UUID, or a fresh ID when
// explicit is empty. It lets operators pin a run ID across resumes.
func (g Generator) Resolve(explicit string) (string, error) {
	if explicit == "" {
		return g.NewID()
	}
	id, err := uuid.Parse(explicit)
	if err != nil {
		return "", fmt.Errorf("parse run id %q: %w", explicit, err)
	}
	return id.String(), nil
}
