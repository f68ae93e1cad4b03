package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountingGenerator_Sequence(t *testing.T) {
	gen := NewCountingGenerator("run")

	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-2", gen.Generate())

	gen.Reset()
	assert.Equal(t, "run-1", gen.Generate())
}

func TestCountingGenerator_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "ctx-1", NewCountingGenerator("").Generate())
}

func TestCountingGenerator_ThreadSafe(t *testing.T) {
	gen := NewCountingGenerator("c")

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
	assert.True(t, seen["c-1000"])
}
