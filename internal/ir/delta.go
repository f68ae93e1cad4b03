package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ChangeType is the kind of an object delta.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// ItemOp is the kind of an attribute-level modification.
type ItemOp string

const (
	// OpReplace sets the attribute to Values. An empty Values removes it.
	OpReplace ItemOp = "replace"
	// OpAdd adds Values to a multi-valued attribute, skipping duplicates.
	OpAdd ItemOp = "add"
	// OpDelete removes Values from a multi-valued attribute.
	OpDelete ItemOp = "delete"
)

// ErrInvalidDelta is returned for deltas that cannot be applied.
var ErrInvalidDelta = errors.New("invalid delta")

// ItemDelta is one attribute-level modification at a dotted path.
type ItemDelta struct {
	Op     ItemOp  `json:"op"`
	Path   string  `json:"path"`
	Values IRArray `json:"values"`
}

// Replace builds a replace modification. No values removes the attribute.
func Replace(path string, values ...IRValue) ItemDelta {
	return ItemDelta{Op: OpReplace, Path: path, Values: IRArray(values)}
}

// AddValues builds an add modification.
func AddValues(path string, values ...IRValue) ItemDelta {
	return ItemDelta{Op: OpAdd, Path: path, Values: IRArray(values)}
}

// DeleteValues builds a delete modification.
func DeleteValues(path string, values ...IRValue) ItemDelta {
	return ItemDelta{Op: OpDelete, Path: path, Values: IRArray(values)}
}

// ObjectDelta describes a change to one object.
type ObjectDelta struct {
	ChangeType    ChangeType  `json:"change_type"`
	Type          string      `json:"type"`
	OID           string      `json:"oid,omitempty"`
	Object        *Object     `json:"object,omitempty"`
	Modifications []ItemDelta `json:"modifications"`
}

// NewAddDelta builds an add delta for obj.
func NewAddDelta(obj *Object) *ObjectDelta {
	return &ObjectDelta{ChangeType: ChangeAdd, Type: obj.Type, OID: obj.ID, Object: obj}
}

// NewModifyDelta builds a modify delta.
func NewModifyDelta(typ, oid string, mods ...ItemDelta) *ObjectDelta {
	return &ObjectDelta{ChangeType: ChangeModify, Type: typ, OID: oid, Modifications: mods}
}

// NewDeleteDelta builds a delete delta.
func NewDeleteDelta(typ, oid string) *ObjectDelta {
	return &ObjectDelta{ChangeType: ChangeDelete, Type: typ, OID: oid}
}

// IsEmpty reports whether the delta would change nothing.
func (d *ObjectDelta) IsEmpty() bool {
	return d == nil || (d.ChangeType == ChangeModify && len(d.Modifications) == 0)
}

// Clone returns a deep copy of the delta.
func (d *ObjectDelta) Clone() *ObjectDelta {
	if d == nil {
		return nil
	}
	c := *d
	c.Object = d.Object.Clone()
	c.Modifications = CloneItems(d.Modifications)
	return &c
}

// CloneItems deep-copies a modification list. Nil stays nil.
func CloneItems(items []ItemDelta) []ItemDelta {
	if items == nil {
		return nil
	}
	out := make([]ItemDelta, len(items))
	for i, it := range items {
		out[i] = ItemDelta{Op: it.Op, Path: it.Path, Values: it.Values.Clone()}
	}
	return out
}

// Touches reports whether any modification targets path or a path below it.
func (d *ObjectDelta) Touches(path string) bool {
	if d == nil {
		return false
	}
	for _, m := range d.Modifications {
		if m.Path == path || strings.HasPrefix(m.Path, path+".") || strings.HasPrefix(path, m.Path+".") {
			return true
		}
	}
	return false
}

// Validate checks the structural well-formedness of a delta.
func (d *ObjectDelta) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil delta", ErrInvalidDelta)
	}
	if d.Type == "" {
		return fmt.Errorf("%w: missing object type", ErrInvalidDelta)
	}
	switch d.ChangeType {
	case ChangeAdd:
		if d.Object == nil {
			return fmt.Errorf("%w: add delta without object", ErrInvalidDelta)
		}
		if len(d.Modifications) > 0 {
			return fmt.Errorf("%w: add delta with modifications", ErrInvalidDelta)
		}
	case ChangeModify:
		if d.OID == "" {
			return fmt.Errorf("%w: modify delta without oid", ErrInvalidDelta)
		}
		for i, m := range d.Modifications {
			if err := m.validate(); err != nil {
				return fmt.Errorf("modification %d: %w", i, err)
			}
		}
	case ChangeDelete:
		if d.OID == "" {
			return fmt.Errorf("%w: delete delta without oid", ErrInvalidDelta)
		}
	default:
		return fmt.Errorf("%w: unknown change type %q", ErrInvalidDelta, d.ChangeType)
	}
	return nil
}

func (m ItemDelta) validate() error {
	if m.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidDelta)
	}
	switch m.Op {
	case OpReplace, OpAdd, OpDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q at %s", ErrInvalidDelta, m.Op, m.Path)
	}
}

// Apply returns the result of applying delta to obj. Neither input is
// modified. Applying an add delta returns a copy of its object; applying a
// delete delta returns nil.
func Apply(obj *Object, delta *ObjectDelta) (*Object, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	switch delta.ChangeType {
	case ChangeAdd:
		if obj != nil {
			return nil, fmt.Errorf("%w: add delta applied to existing object %s", ErrInvalidDelta, obj.ID)
		}
		return delta.Object.Clone(), nil
	case ChangeDelete:
		return nil, nil
	}

	if obj == nil {
		return nil, fmt.Errorf("%w: modify delta for %s without current object", ErrInvalidDelta, delta.OID)
	}
	attrs, err := ApplyItems(obj.Attrs, delta.Modifications)
	if err != nil {
		return nil, err
	}
	out := obj.Clone()
	out.Attrs = attrs
	return out, nil
}

// ApplyItems returns a copy of attrs with items applied in order.
func ApplyItems(attrs IRObject, items []ItemDelta) (IRObject, error) {
	out := attrs.Clone()
	if out == nil {
		out = IRObject{}
	}
	for _, it := range items {
		if err := it.validate(); err != nil {
			return nil, err
		}
		applyItem(out, it)
	}
	return out, nil
}

func applyItem(attrs IRObject, it ItemDelta) {
	parts := strings.Split(it.Path, ".")
	parent := attrs
	for _, p := range parts[:len(parts)-1] {
		next, ok := parent[p].(IRObject)
		if !ok {
			if it.Op != OpReplace && it.Op != OpAdd {
				return
			}
			next = IRObject{}
			parent[p] = next
		}
		parent = next
	}
	leaf := parts[len(parts)-1]

	switch it.Op {
	case OpReplace:
		switch len(it.Values) {
		case 0:
			delete(parent, leaf)
		case 1:
			parent[leaf] = CloneValue(it.Values[0])
		default:
			parent[leaf] = it.Values.Clone()
		}
	case OpAdd:
		current := Values(parent[leaf])
		merged := current.Clone()
		for _, v := range it.Values {
			if !containsValue(merged, v) {
				merged = append(merged, CloneValue(v))
			}
		}
		parent[leaf] = merged
	case OpDelete:
		current, ok := parent[leaf]
		if !ok {
			return
		}
		if _, isArray := current.(IRArray); !isArray {
			if containsValue(it.Values, current) {
				delete(parent, leaf)
			}
			return
		}
		kept := IRArray{}
		for _, v := range Values(current) {
			if !containsValue(it.Values, v) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(parent, leaf)
			return
		}
		parent[leaf] = kept
	}
}

func containsValue(set IRArray, v IRValue) bool {
	for _, s := range set {
		if Equal(s, v) {
			return true
		}
	}
	return false
}

// Diff returns replace modifications that turn the values of from into the
// values of to, restricted to keys present in to. Each value is replaced
// whole, so array-valued attributes keep their shape. Keys are visited in
// canonical order.
func Diff(prefix string, from, to IRObject) []ItemDelta {
	var mods []ItemDelta
	for _, k := range to.SortedKeys() {
		want := to[k]
		have, ok := from[k]
		if ok && Equal(have, want) {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		mods = append(mods, Replace(path, want))
	}
	return mods
}
