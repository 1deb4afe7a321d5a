// Package idgen issues identifiers for sales, batches and shortage events.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues unique identifiers.
type Generator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDv4 strings, optionally prefixed.
type UUIDGenerator struct {
	Prefix string
}

func (g UUIDGenerator) NewID() string {
	return g.Prefix + uuid.New().String()
}

// SequenceGenerator issues prefix-1, prefix-2, ... It is safe for concurrent
// use and is mainly useful where readable, predictable IDs matter.
type SequenceGenerator struct {
	prefix string
	next   atomic.Int64
}

// NewSequenceGenerator creates a sequence starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.next.Add(1))
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.next.Store(0)
}
