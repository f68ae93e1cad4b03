// Package testutil holds deterministic stand-ins for the engine's clock and
// id generator so scenario runs are reproducible byte for byte.
package testutil

import (
	"sync"

	"github.com/roach88/tether/internal/engine"
)

var _ engine.Sequencer = (*DeterministicClock)(nil)

// DeterministicClock is a resettable engine.Sequencer. Unlike engine.Clock
// it can be rewound, so one scenario can be replayed with identical
// store sequence numbers.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	seq   int64
}

// NewDeterministicClock returns a clock whose first Next is 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// NewDeterministicClockAt returns a clock whose first Next is start+1.
func NewDeterministicClockAt(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, seq: start}
}

// Next advances the clock and returns the new value.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last value handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to where it was created.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = c.start
}
