package clockwork

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
)

// dependencies returns the keys p must wait for: its declared DependsOn and
// every projection whose external id it references, restricted to
// projections present in the context.
func dependencies(p *model.Projection, present map[string]bool, resources *ir.ResourceSet) []string {
	def, ok := resources.Get(p.Key())
	if !ok {
		return nil
	}
	self := p.Key()
	set := map[string]bool{}
	for _, d := range def.DependsOn {
		if present[d] && d != self {
			set[d] = true
		}
	}
	for _, m := range def.Mappings {
		if key, attr, ok := m.ProjectionSource(); ok && attr == ir.ExternalIDRef && present[key] && key != self {
			set[key] = true
		}
	}
	deps := make([]string, 0, len(set))
	for d := range set {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

// assignWaves layers projections so that every projection runs in a later
// wave than its dependencies. A cycle is an error.
func assignWaves(projections []*model.Projection, resources *ir.ResourceSet) error {
	present := make(map[string]bool, len(projections))
	for _, p := range projections {
		present[p.Key()] = true
	}
	deps := make(map[string][]string, len(projections))
	for _, p := range projections {
		deps[p.Key()] = dependencies(p, present, resources)
	}

	waves := make(map[string]int, len(projections))
	remaining := projections
	for wave := 0; len(remaining) > 0; wave++ {
		var ready, blocked []*model.Projection
		for _, p := range remaining {
			if depsDone(deps[p.Key()], waves) {
				ready = append(ready, p)
			} else {
				blocked = append(blocked, p)
			}
		}
		if len(ready) == 0 {
			keys := make([]string, len(blocked))
			for i, p := range blocked {
				keys[i] = p.Key()
			}
			sort.Strings(keys)
			return fmt.Errorf("dependency cycle among %s", strings.Join(keys, ", "))
		}
		for _, p := range ready {
			p.Wave = wave
			waves[p.Key()] = wave
		}
		remaining = blocked
	}
	return nil
}

func depsDone(deps []string, waves map[string]int) bool {
	for _, d := range deps {
		if _, ok := waves[d]; !ok {
			return false
		}
	}
	return true
}

// executionOrder returns the projections that create or update by wave,
// then key, followed by the DELETE projections in reverse wave order so
// dependents are removed before what they depend on.
func executionOrder(c *model.Context) []*model.Projection {
	var forward, deletes []*model.Projection
	for _, p := range c.Projections {
		if p.Decision == model.DecisionDelete {
			deletes = append(deletes, p)
		} else {
			forward = append(forward, p)
		}
	}
	sort.SliceStable(forward, func(i, j int) bool {
		return byWave(forward[i], forward[j], false)
	})
	sort.SliceStable(deletes, func(i, j int) bool {
		return byWave(deletes[i], deletes[j], true)
	})
	return append(forward, deletes...)
}

func byWave(a, b *model.Projection, reverse bool) bool {
	if a.Wave != b.Wave {
		return (a.Wave < b.Wave) != reverse
	}
	return a.Key() < b.Key()
}
