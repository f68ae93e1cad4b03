package discovery

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
)

// Op is the external operation that reported the object missing.
type Op string

const (
	OpGet    Op = "GET"
	OpModify Op = "MODIFY"
	OpDelete Op = "DELETE"
)

// Request describes a not-found failure to compensate.
type Request struct {
	Shadow *ir.Object
	Op     Op
	// Delta is the connector delta that failed. Required for MODIFY.
	Delta *ir.ObjectDelta
	Cause error
	// AllowCompensation permits compensation of a failed GET.
	AllowCompensation bool
}

// ResolutionKind classifies a successful compensation.
type ResolutionKind string

const (
	// Deleted: the target was meant to be deleted and is already gone.
	Deleted ResolutionKind = "deleted"
	// Replaced: reconciliation created a replacement; Shadow refers to it.
	Replaced ResolutionKind = "replaced"
	// NoAction: no replacement was created and the pending intent is dropped.
	NoAction ResolutionKind = "no_action"
)

// Resolution is the outcome of a handled not-found.
type Resolution struct {
	Kind ResolutionKind
	// Shadow is the replacement shadow when Kind is Replaced.
	Shadow *ir.Object
	// Delta is the delta re-applied to the replacement (MODIFY).
	Delta *ir.ObjectDelta
	// Result is the connector result of the re-applied delta (MODIFY).
	Result connector.Result
	// Object is the freshly fetched replacement (GET).
	Object *ir.Object
}

// ChangeKind names the change reported to the dispatcher.
type ChangeKind string

const (
	// ChangeVanished: the object disappeared and needs reconciliation.
	ChangeVanished ChangeKind = "vanished"
	// ChangeDeleted: the object is gone as intended.
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeDescription is handed to the reconciliation pathway.
type ChangeDescription struct {
	Kind       ChangeKind
	Resource   string
	ObjectKind string
	Intent     string
	ExternalID string
	// Shadow is the retired shadow as last stored, dead marker included.
	Shadow *ir.Object
}

// NotifyOutcome reports what reconciliation did.
type NotifyOutcome struct {
	// ReplacementShadow is set when a replacement object was created.
	ReplacementShadow *ir.Object
}

// Dispatcher hands a change to reconciliation and waits for its outcome.
type Dispatcher interface {
	Notify(ctx context.Context, change ChangeDescription) (NotifyOutcome, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, change ChangeDescription) (NotifyOutcome, error)

// Notify implements Dispatcher.
func (f DispatcherFunc) Notify(ctx context.Context, change ChangeDescription) (NotifyOutcome, error) {
	return f(ctx, change)
}

// CompensationError reports a failed compensation. It unwraps to both the
// original not-found cause and the reconciliation failure.
type CompensationError struct {
	Op    Op
	Cause error
	Err   error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v (cause: %v)", e.Op, e.Err, e.Cause)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.Cause, e.Err}
}
