package clockwork

import "github.com/roach88/tether/internal/model"

// Gate decides whether a context needs external approval before EXECUTION.
type Gate interface {
	RequiresApproval(c *model.Context) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(c *model.Context) bool

// RequiresApproval implements Gate.
func (f GateFunc) RequiresApproval(c *model.Context) bool {
	return f(c)
}

// ResourceGate requires approval when any projection on one of the given
// resources has a pending delta.
func ResourceGate(resources ...string) Gate {
	gated := make(map[string]bool, len(resources))
	for _, r := range resources {
		gated[r] = true
	}
	return GateFunc(func(c *model.Context) bool {
		for _, p := range c.Projections {
			if gated[p.Discriminator.Resource] && p.Pending() {
				return true
			}
		}
		return false
	})
}
