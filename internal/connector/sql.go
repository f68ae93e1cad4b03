package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/store"
)

// SQL simulates external resources inside the store's SQLite database, so a
// CLI run survives restarts.
type SQL struct {
	store *store.Store
}

var _ Connector = (*SQL)(nil)

// NewSQL returns a connector persisting into s.
func NewSQL(s *store.Store) *SQL {
	return &SQL{store: s}
}

// Apply implements Connector.
func (c *SQL) Apply(ctx context.Context, resource string, delta *ir.ObjectDelta) (Result, error) {
	if err := validate(resource, delta); err != nil {
		return Result{}, err
	}

	switch delta.ChangeType {
	case ir.ChangeAdd:
		id, err := c.store.NextExternalID(ctx, resource)
		if err != nil {
			return Result{}, &OpError{Resource: resource, Op: "add", Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
		}
		if err := c.store.PutExternal(ctx, resource, id, delta.Object.Attrs); err != nil {
			return Result{}, &OpError{Resource: resource, Op: "add", ExternalID: id, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
		}
		return Result{ExternalID: id, Attributes: delta.Object.Attrs.Clone()}, nil

	case ir.ChangeModify:
		current, err := c.store.GetExternal(ctx, resource, delta.OID)
		if err != nil {
			return Result{}, c.wrap(resource, "modify", delta.OID, err)
		}
		attrs, err := ir.ApplyItems(current, delta.Modifications)
		if err != nil {
			return Result{}, &OpError{Resource: resource, Op: "modify", ExternalID: delta.OID, Err: fmt.Errorf("%w: %v", ErrRejected, err)}
		}
		if err := c.store.PutExternal(ctx, resource, delta.OID, attrs); err != nil {
			return Result{}, c.wrap(resource, "modify", delta.OID, err)
		}
		return Result{ExternalID: delta.OID, Attributes: attrs}, nil

	default:
		if err := c.store.DeleteExternal(ctx, resource, delta.OID); err != nil {
			return Result{}, c.wrap(resource, "delete", delta.OID, err)
		}
		return Result{ExternalID: delta.OID, Attributes: ir.IRObject{}}, nil
	}
}

// Get implements Connector.
func (c *SQL) Get(ctx context.Context, resource, externalID string) (*ir.Object, error) {
	attrs, err := c.store.GetExternal(ctx, resource, externalID)
	if err != nil {
		return nil, c.wrap(resource, "get", externalID, err)
	}
	return &ir.Object{Type: resource, ID: externalID, Attrs: attrs}, nil
}

func (c *SQL) wrap(resource, op, id string, err error) error {
	if errors.Is(err, store.ErrExternalNotFound) {
		return &OpError{Resource: resource, Op: op, ExternalID: id, Err: ErrNotFound}
	}
	return &OpError{Resource: resource, Op: op, ExternalID: id, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
}
