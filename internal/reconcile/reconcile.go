// Package reconcile is the reconciliation pathway behind discovery
// notifications. Each resource definition chooses how a vanished projection
// is handled: recreate it from the last known shadow state, or unlink it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/repo"
)

// Reconciler implements discovery.Dispatcher.
type Reconciler struct {
	repo      repo.Repository
	connector connector.Connector
	resources *ir.ResourceSet
	logger    *slog.Logger
}

var _ discovery.Dispatcher = (*Reconciler)(nil)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a reconciler for the given resource definitions.
func New(r repo.Repository, conn connector.Connector, resources *ir.ResourceSet, opts ...Option) *Reconciler {
	rc := &Reconciler{repo: r, connector: conn, resources: resources, logger: slog.Default()}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Notify implements discovery.Dispatcher.
func (r *Reconciler) Notify(ctx context.Context, change discovery.ChangeDescription) (discovery.NotifyOutcome, error) {
	if change.Kind != discovery.ChangeVanished {
		r.logger.Debug("deletion confirmed",
			"resource", change.Resource,
			"external_id", change.ExternalID)
		return discovery.NotifyOutcome{}, nil
	}

	key := ir.DiscriminatorKey(change.Resource, change.ObjectKind, change.Intent)
	def, ok := r.resources.Get(key)
	if !ok {
		return discovery.NotifyOutcome{}, fmt.Errorf("reconcile %s: no resource definition", key)
	}

	switch def.Reaction {
	case ir.ReactionRecreate:
		shadow, err := r.recreate(ctx, def, change.Shadow)
		if err != nil {
			return discovery.NotifyOutcome{}, fmt.Errorf("reconcile %s: %w", key, err)
		}
		return discovery.NotifyOutcome{ReplacementShadow: shadow}, nil
	default:
		r.logger.Info("vanished projection unlinked",
			"resource", change.Resource,
			"external_id", change.ExternalID)
		return discovery.NotifyOutcome{}, nil
	}
}

// recreate adds the object again from the dead shadow's last attributes and
// stores a new live shadow for it.
func (r *Reconciler) recreate(ctx context.Context, def ir.ResourceDefinition, dead *ir.Object) (*ir.Object, error) {
	if dead == nil {
		return nil, fmt.Errorf("recreate: no shadow")
	}
	attrs, _ := dead.Attrs[ir.AttrAttributes].(ir.IRObject)

	res, err := r.connector.Apply(ctx, def.Resource, ir.NewAddDelta(&ir.Object{
		Type:  def.ObjectClass.Name,
		Attrs: attrs.Clone(),
	}))
	if err != nil {
		return nil, fmt.Errorf("recreate on %s: %w", def.Resource, err)
	}

	shadow := ir.NewShadow(def, res.ExternalID, dead.String(ir.AttrOwner), res.Attributes)
	if _, err := r.repo.Add(ctx, shadow, nil); err != nil {
		return nil, fmt.Errorf("store replacement shadow: %w", err)
	}

	r.logger.Info("vanished projection recreated",
		"resource", def.Resource,
		"old_external_id", dead.String(ir.AttrExternalID),
		"external_id", res.ExternalID,
		"shadow", shadow.ID)
	return shadow, nil
}
