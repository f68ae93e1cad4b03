package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/tether/internal/engine"
)

var _ engine.IDGenerator = (*CountingGenerator)(nil)

// CountingGenerator hands out "<prefix>-1", "<prefix>-2", ... as change
// context ids. Scenarios use it instead of engine.FixedGenerator because
// they do not know up front how many changes a run submits.
type CountingGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingGenerator creates a generator. An empty prefix becomes "ctx".
func NewCountingGenerator(prefix string) *CountingGenerator {
	if prefix == "" {
		prefix = "ctx"
	}
	return &CountingGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *CountingGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *CountingGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
