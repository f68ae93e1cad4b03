package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
)

// Stats counts calls that reached a Memory repository.
type Stats struct {
	Gets        atomic.Int64
	GetVersions atomic.Int64
	Searches    atomic.Int64
	Writes      atomic.Int64
}

// Memory is an in-process Repository. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	objects map[ir.Ref]*ir.Object

	Stats Stats
}

// NewMemory returns an empty repository seeded with objs.
func NewMemory(objs ...*ir.Object) *Memory {
	m := &Memory{objects: make(map[ir.Ref]*ir.Object)}
	for _, o := range objs {
		c := o.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		m.objects[c.Ref()] = c
	}
	return m
}

// Get implements Repository.
func (m *Memory) Get(ctx context.Context, typ, id string, opts *GetOptions) (*ir.Object, error) {
	m.Stats.Gets.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[ir.Ref{Type: typ, ID: id}]
	if !ok {
		if opts != nil && opts.AllowNotFound {
			return nil, nil
		}
		return nil, NotFound("get", typ, id)
	}
	return obj.Clone(), nil
}

// GetVersion implements Repository.
func (m *Memory) GetVersion(ctx context.Context, typ, id string) (int64, error) {
	m.Stats.GetVersions.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[ir.Ref{Type: typ, ID: id}]
	if !ok {
		return 0, NotFound("get version", typ, id)
	}
	return obj.Version, nil
}

// Search implements Repository.
func (m *Memory) Search(ctx context.Context, q queryir.Select, opts *GetOptions) ([]*ir.Object, error) {
	m.Stats.Searches.Add(1)
	if err := queryir.Validate(q); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*ir.Object{}
	for _, obj := range m.objects {
		if queryir.Matches(q, obj) {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Add implements Repository. An empty id is replaced with a UUIDv7.
func (m *Memory) Add(ctx context.Context, obj *ir.Object, opts *WriteOptions) (string, error) {
	m.Stats.Writes.Add(1)
	if opts == nil || !opts.Raw {
		if err := Validate(obj); err != nil {
			return "", fmt.Errorf("add: %w", err)
		}
	}
	stored := obj.Clone()
	if stored.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("add: generate id: %w", err)
		}
		stored.ID = id.String()
	}
	stored.Version = 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[stored.Ref()]; exists {
		return "", &ObjectError{Op: "add", Ref: stored.Ref(), Err: ErrAlreadyExists}
	}
	m.objects[stored.Ref()] = stored
	return stored.ID, nil
}

// Modify implements Repository.
func (m *Memory) Modify(ctx context.Context, typ, id string, mods []ir.ItemDelta, opts *WriteOptions) error {
	m.Stats.Writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := ir.Ref{Type: typ, ID: id}
	current, ok := m.objects[ref]
	if !ok {
		return NotFound("modify", typ, id)
	}
	attrs, err := ir.ApplyItems(current.Attrs, mods)
	if err != nil {
		return &ObjectError{Op: "modify", Ref: ref, Err: fmt.Errorf("%w: %v", ErrSchemaInvalid, err)}
	}
	next := current.Clone()
	next.Attrs = attrs
	next.Version++
	if opts == nil || !opts.Raw {
		if err := Validate(next); err != nil {
			return fmt.Errorf("modify: %w", err)
		}
	}
	m.objects[ref] = next
	return nil
}

// Delete implements Repository.
func (m *Memory) Delete(ctx context.Context, typ, id string) error {
	m.Stats.Writes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := ir.Ref{Type: typ, ID: id}
	if _, ok := m.objects[ref]; !ok {
		return NotFound("delete", typ, id)
	}
	delete(m.objects, ref)
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
