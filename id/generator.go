package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generator hands out identifiers for publishers, subscribers and anonymous subscriber groups.
type Generator interface {
	NextID() string
}

// UUIDGenerator produces random version 4 identifiers with an optional prefix.
type UUIDGenerator struct {
	prefix string
}

// NewUUIDGenerator creates a generator whose ids start with prefix followed by '-'.
// An empty prefix yields bare UUIDs.
func NewUUIDGenerator(prefix string) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefix}
}

// NextID returns a new identifier
func (g *UUIDGenerator) NextID() string {
	if g.prefix == "" {
		return uuid.NewString()
	}
	return g.prefix + "-" + uuid.NewString()
}

// HasPrefix reports whether id was produced by a generator with the given prefix
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-")
}
