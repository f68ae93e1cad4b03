// Package connector defines the contract for external systems hosting
// projections, plus in-memory and SQLite-backed implementations.
//
// Deltas sent to a connector address the external object directly: OID is
// the external identifier, Type is the object class, and modification paths
// are attribute names.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Sentinel errors. Implementations wrap them in *OpError.
var (
	ErrNotFound    = errors.New("external object not found")
	ErrUnreachable = errors.New("resource unreachable")
	ErrRejected    = errors.New("operation rejected by resource")
)

// Result is the outcome of a successful Apply.
type Result struct {
	// ExternalID identifies the object on the resource. Set for every
	// change type; for adds it is newly assigned.
	ExternalID string
	// Attributes holds the object's attributes after the operation. Empty
	// after a delete.
	Attributes ir.IRObject
}

// Connector applies deltas to external resources.
type Connector interface {
	Apply(ctx context.Context, resource string, delta *ir.ObjectDelta) (Result, error)
	Get(ctx context.Context, resource, externalID string) (*ir.Object, error)
}

// OpError describes a failed connector operation.
type OpError struct {
	Resource   string
	Op         string
	ExternalID string
	Err        error
}

func (e *OpError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s on %s: %v", e.Op, e.ExternalID, e.Resource, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the external object is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func validate(resource string, delta *ir.ObjectDelta) error {
	if resource == "" {
		return &OpError{Op: "apply", Err: fmt.Errorf("%w: empty resource", ErrRejected)}
	}
	if err := delta.Validate(); err != nil {
		return &OpError{Resource: resource, Op: "apply", Err: fmt.Errorf("%w: %v", ErrRejected, err)}
	}
	return nil
}
