package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/tether/internal/ir"
)

// Memory is an in-process connector holding every resource in maps.
// External identifiers are allocated per resource as R1, R2, ...
type Memory struct {
	mu      sync.Mutex
	objects map[string]map[string]ir.IRObject
	next    map[string]int
}

var _ Connector = (*Memory)(nil)

// NewMemory returns an empty connector.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]map[string]ir.IRObject),
		next:    make(map[string]int),
	}
}

// Apply implements Connector.
func (m *Memory) Apply(ctx context.Context, resource string, delta *ir.ObjectDelta) (Result, error) {
	if err := validate(resource, delta); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	objs := m.objects[resource]
	if objs == nil {
		objs = make(map[string]ir.IRObject)
		m.objects[resource] = objs
	}

	switch delta.ChangeType {
	case ir.ChangeAdd:
		m.next[resource]++
		id := fmt.Sprintf("R%d", m.next[resource])
		objs[id] = delta.Object.Attrs.Clone()
		return Result{ExternalID: id, Attributes: objs[id].Clone()}, nil

	case ir.ChangeModify:
		current, ok := objs[delta.OID]
		if !ok {
			return Result{}, &OpError{Resource: resource, Op: "modify", ExternalID: delta.OID, Err: ErrNotFound}
		}
		attrs, err := ir.ApplyItems(current, delta.Modifications)
		if err != nil {
			return Result{}, &OpError{Resource: resource, Op: "modify", ExternalID: delta.OID, Err: fmt.Errorf("%w: %v", ErrRejected, err)}
		}
		objs[delta.OID] = attrs
		return Result{ExternalID: delta.OID, Attributes: attrs.Clone()}, nil

	default:
		if _, ok := objs[delta.OID]; !ok {
			return Result{}, &OpError{Resource: resource, Op: "delete", ExternalID: delta.OID, Err: ErrNotFound}
		}
		delete(objs, delta.OID)
		return Result{ExternalID: delta.OID, Attributes: ir.IRObject{}}, nil
	}
}

// Get implements Connector.
func (m *Memory) Get(ctx context.Context, resource, externalID string) (*ir.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attrs, ok := m.objects[resource][externalID]
	if !ok {
		return nil, &OpError{Resource: resource, Op: "get", ExternalID: externalID, Err: ErrNotFound}
	}
	return &ir.Object{Type: resource, ID: externalID, Attrs: attrs.Clone()}, nil
}

// Put stores an object directly, as if created outside the engine.
func (m *Memory) Put(resource, externalID string, attrs ir.IRObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[resource] == nil {
		m.objects[resource] = make(map[string]ir.IRObject)
	}
	m.objects[resource][externalID] = attrs.Clone()
}

// Remove deletes an object behind the engine's back.
func (m *Memory) Remove(resource, externalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects[resource], externalID)
}

// IDs returns the external identifiers present on a resource, sorted.
func (m *Memory) IDs(resource string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.objects[resource]))
	for id := range m.objects[resource] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
