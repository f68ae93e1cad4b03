package connector

import (
	"context"
	"sync"

	"github.com/roach88/tether/internal/ir"
)

// Fault makes matching operations fail. Empty fields match anything.
type Fault struct {
	Resource   string
	Op         ir.ChangeType
	ExternalID string
	Err        error
	// Times bounds how often the fault fires. Zero means always.
	Times int
}

func (f Fault) matches(resource string, op ir.ChangeType, id string) bool {
	return (f.Resource == "" || f.Resource == resource) &&
		(f.Op == "" || f.Op == op) &&
		(f.ExternalID == "" || f.ExternalID == id)
}

// Call records one operation attempted through a Faulty connector.
type Call struct {
	Resource   string        `json:"resource" yaml:"resource"`
	Op         ir.ChangeType `json:"op" yaml:"op"`
	ExternalID string        `json:"external_id" yaml:"external_id"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Faulty wraps a connector with fault injection and a call journal.
type Faulty struct {
	inner Connector

	mu     sync.Mutex
	faults []*Fault
	calls  []Call
}

var _ Connector = (*Faulty)(nil)

// NewFaulty wraps inner.
func NewFaulty(inner Connector) *Faulty {
	return &Faulty{inner: inner}
}

// Inject adds a fault. Faults are consulted in injection order.
func (f *Faulty) Inject(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault)
}

// Calls returns the journal of attempted Apply operations.
func (f *Faulty) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Apply implements Connector.
func (f *Faulty) Apply(ctx context.Context, resource string, delta *ir.ObjectDelta) (Result, error) {
	var op ir.ChangeType
	var oid string
	if delta != nil {
		op, oid = delta.ChangeType, delta.OID
	}

	res, err := f.apply(ctx, resource, op, oid, delta)

	call := Call{Resource: resource, Op: op, ExternalID: oid}
	if op == ir.ChangeAdd {
		call.ExternalID = res.ExternalID
	}
	if err != nil {
		call.Error = err.Error()
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return res, err
}

func (f *Faulty) apply(ctx context.Context, resource string, op ir.ChangeType, oid string, delta *ir.ObjectDelta) (Result, error) {
	if err := f.fire(resource, op, oid); err != nil {
		return Result{}, &OpError{Resource: resource, Op: string(op), ExternalID: oid, Err: err}
	}
	return f.inner.Apply(ctx, resource, delta)
}

// Get implements Connector. Faults with Op "get" apply.
func (f *Faulty) Get(ctx context.Context, resource, externalID string) (*ir.Object, error) {
	if err := f.fire(resource, "get", externalID); err != nil {
		return nil, &OpError{Resource: resource, Op: "get", ExternalID: externalID, Err: err}
	}
	return f.inner.Get(ctx, resource, externalID)
}

func (f *Faulty) fire(resource string, op ir.ChangeType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fault := range f.faults {
		if fault.Times < 0 || !fault.matches(resource, op, id) {
			continue
		}
		if fault.Times > 0 {
			fault.Times--
			if fault.Times == 0 {
				fault.Times = -1
			}
		}
		return fault.Err
	}
	return nil
}
