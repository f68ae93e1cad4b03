// Package discovery reconciles local state when an external system reports
// that a projection no longer exists.
//
// Side effects are always ordered: the shadow is marked dead before the
// dispatcher is notified, and the notification happens before the stale
// shadow is deleted. A crash between steps leaves a dead-marked record, never
// a stale live one.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/repo"
)

var compensations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "discovery",
		Name:      "compensations_total",
		Help:      "Handled not-found failures by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

// Collectors returns the discovery metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{compensations}
}

// Compensator handles not-found failures.
type Compensator struct {
	repo       repo.Repository
	connector  connector.Connector
	dispatcher Dispatcher
	logger     *slog.Logger
}

// Option configures a Compensator.
type Option func(*Compensator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compensator) {
		c.logger = l
	}
}

// New creates a compensator.
func New(r repo.Repository, conn connector.Connector, d Dispatcher, opts ...Option) *Compensator {
	c := &Compensator{repo: r, connector: conn, dispatcher: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleNotFound compensates one not-found failure. On success it returns a
// resolution; GET failures that cannot be compensated return the original
// cause. When a MODIFY created a replacement but re-applying the delta to it
// failed, both the Replaced resolution and the error are returned.
func (c *Compensator) HandleNotFound(ctx context.Context, req Request) (*Resolution, error) {
	if req.Shadow == nil {
		return nil, fmt.Errorf("compensate %s: no shadow: %w", req.Op, req.Cause)
	}

	var (
		res *Resolution
		err error
	)
	switch req.Op {
	case OpDelete:
		res, err = c.handleDelete(ctx, req)
	case OpModify:
		res, err = c.handleModify(ctx, req)
	case OpGet:
		res, err = c.handleGet(ctx, req)
	default:
		return nil, fmt.Errorf("compensate: unknown operation %q", req.Op)
	}

	outcome := "failed"
	if err == nil {
		outcome = string(res.Kind)
	}
	compensations.WithLabelValues(string(req.Op), outcome).Inc()
	return res, err
}

func (c *Compensator) handleDelete(ctx context.Context, req Request) (*Resolution, error) {
	if err := c.repo.Delete(ctx, ir.TypeShadow, req.Shadow.ID); err != nil && !repo.IsNotFound(err) {
		return nil, &CompensationError{Op: req.Op, Cause: req.Cause, Err: fmt.Errorf("delete shadow: %w", err)}
	}
	if _, err := c.dispatcher.Notify(ctx, describe(ChangeDeleted, req.Shadow)); err != nil {
		return nil, &CompensationError{Op: req.Op, Cause: req.Cause, Err: err}
	}
	c.logger.Info("vanished object already deleted",
		"shadow", req.Shadow.ID,
		"resource", req.Shadow.String(ir.AttrResource))
	return &Resolution{Kind: Deleted}, nil
}

func (c *Compensator) handleModify(ctx context.Context, req Request) (*Resolution, error) {
	if req.Delta == nil {
		return nil, fmt.Errorf("compensate %s: no pending delta: %w", req.Op, req.Cause)
	}

	outcome, err := c.retire(ctx, req)
	if err != nil {
		return nil, err
	}
	c.deleteStale(ctx, req.Shadow)

	if outcome.ReplacementShadow == nil {
		c.logger.Info("vanished object not replaced, dropping modification",
			"shadow", req.Shadow.ID,
			"resource", req.Shadow.String(ir.AttrResource))
		return &Resolution{Kind: NoAction}, nil
	}

	replacement := outcome.ReplacementShadow
	delta := req.Delta.Clone()
	delta.OID = replacement.String(ir.AttrExternalID)
	res := &Resolution{Kind: Replaced, Shadow: replacement, Delta: delta}
	result, err := c.connector.Apply(ctx, replacement.String(ir.AttrResource), delta)
	if err != nil {
		// The replacement exists either way; the caller must still adopt it.
		return res, fmt.Errorf("re-apply to replacement %s: %w", delta.OID, err)
	}
	res.Result = result

	c.logger.Info("modification re-applied to replacement",
		"shadow", req.Shadow.ID,
		"replacement", replacement.ID,
		"external_id", delta.OID)
	return res, nil
}

func (c *Compensator) handleGet(ctx context.Context, req Request) (*Resolution, error) {
	if !req.AllowCompensation {
		return nil, req.Cause
	}

	outcome, err := c.retire(ctx, req)
	if err != nil {
		return nil, err
	}
	c.deleteStale(ctx, req.Shadow)

	if outcome.ReplacementShadow == nil {
		return nil, req.Cause
	}

	replacement := outcome.ReplacementShadow
	fresh, err := c.connector.Get(ctx, replacement.String(ir.AttrResource), replacement.String(ir.AttrExternalID))
	if err != nil {
		return nil, fmt.Errorf("fetch replacement %s: %w", replacement.ID, err)
	}
	return &Resolution{Kind: Replaced, Shadow: replacement, Object: fresh}, nil
}

// retire marks the shadow dead, bypassing validation, then notifies the
// dispatcher.
func (c *Compensator) retire(ctx context.Context, req Request) (NotifyOutcome, error) {
	mods := []ir.ItemDelta{ir.Replace(ir.AttrDead, ir.IRBool(true))}
	if err := c.repo.Modify(ctx, ir.TypeShadow, req.Shadow.ID, mods, &repo.WriteOptions{Raw: true}); err != nil {
		return NotifyOutcome{}, &CompensationError{Op: req.Op, Cause: req.Cause, Err: fmt.Errorf("mark shadow dead: %w", err)}
	}

	dead := req.Shadow.Clone()
	dead.Attrs[ir.AttrDead] = ir.IRBool(true)

	outcome, err := c.dispatcher.Notify(ctx, describe(ChangeVanished, dead))
	if err != nil {
		return NotifyOutcome{}, &CompensationError{Op: req.Op, Cause: req.Cause, Err: err}
	}
	return outcome, nil
}

// deleteStale removes the retired shadow. Failures are harmless: a
// concurrent reconciliation may already have removed it.
func (c *Compensator) deleteStale(ctx context.Context, shadow *ir.Object) {
	err := c.repo.Delete(ctx, ir.TypeShadow, shadow.ID)
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return
	}
	c.logger.Warn("failed to delete stale shadow",
		"shadow", shadow.ID,
		"error", err)
}

func describe(kind ChangeKind, shadow *ir.Object) ChangeDescription {
	return ChangeDescription{
		Kind:       kind,
		Resource:   shadow.String(ir.AttrResource),
		ObjectKind: shadow.String(ir.AttrKind),
		Intent:     shadow.String(ir.AttrIntent),
		ExternalID: shadow.String(ir.AttrExternalID),
		Shadow:     shadow.Clone(),
	}
}
