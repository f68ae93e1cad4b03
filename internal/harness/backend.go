package harness

import (
	"context"
	"fmt"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/store"
)

// faultErrors maps scenario fault names to connector sentinels.
var faultErrors = map[string]error{
	"unreachable": connector.ErrUnreachable,
	"not_found":   connector.ErrNotFound,
	"rejected":    connector.ErrRejected,
}

// backend is a connector whose objects the scenario can also edit behind
// the engine's back.
type backend interface {
	connector.Connector
	put(ctx context.Context, resource, id string, attrs ir.IRObject) error
	remove(ctx context.Context, resource, id string) error
}

type memoryBackend struct {
	*connector.Memory
}

func (b memoryBackend) put(_ context.Context, resource, id string, attrs ir.IRObject) error {
	b.Put(resource, id, attrs)
	return nil
}

func (b memoryBackend) remove(_ context.Context, resource, id string) error {
	b.Remove(resource, id)
	return nil
}

type sqlBackend struct {
	*connector.SQL
	store *store.Store
}

func (b sqlBackend) put(ctx context.Context, resource, id string, attrs ir.IRObject) error {
	return b.store.PutExternal(ctx, resource, id, attrs)
}

func (b sqlBackend) remove(ctx context.Context, resource, id string) error {
	return b.store.DeleteExternal(ctx, resource, id)
}

func newBackend(kind string, st *store.Store) backend {
	if kind == ConnectorSQL {
		return sqlBackend{SQL: connector.NewSQL(st), store: st}
	}
	return memoryBackend{Memory: connector.NewMemory()}
}

// toFault converts a validated fault spec.
func toFault(f FaultSpec) connector.Fault {
	return connector.Fault{
		Resource:   f.Resource,
		Op:         ir.ChangeType(f.Op),
		ExternalID: f.ExternalID,
		Err:        faultErrors[f.Error],
		Times:      f.Times,
	}
}

// Delta builds the change the step describes. The step must be valid.
func (s *SubmitStep) Delta() (*ir.ObjectDelta, error) {
	typ := s.Type
	if typ == "" {
		typ = ir.TypeUser
	}
	switch ir.ChangeType(s.Change) {
	case ir.ChangeAdd:
		attrs, err := ir.ObjectFromMap(s.Attrs)
		if err != nil {
			return nil, fmt.Errorf("attrs: %w", err)
		}
		return ir.NewAddDelta(&ir.Object{Type: typ, ID: s.OID, Attrs: attrs}), nil
	case ir.ChangeModify:
		items := make([]ir.ItemDelta, 0, len(s.Modifications))
		for i, m := range s.Modifications {
			values := ir.IRArray{}
			for j, raw := range m.Values {
				v, err := ir.FromAny(raw)
				if err != nil {
					return nil, fmt.Errorf("modifications[%d].values[%d]: %w", i, j, err)
				}
				values = append(values, v)
			}
			items = append(items, ir.ItemDelta{Op: ir.ItemOp(m.Op), Path: m.Path, Values: values})
		}
		return ir.NewModifyDelta(typ, s.OID, items...), nil
	default:
		return ir.NewDeleteDelta(typ, s.OID), nil
	}
}
