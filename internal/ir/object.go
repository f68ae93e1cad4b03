package ir

import (
	"fmt"
	"strings"
)

// Well-known object types held by the authoritative store.
const (
	// TypeUser is the focal entity type.
	TypeUser = "user"

	// TypeShadow mirrors a projection's last-known state on a resource.
	TypeShadow = "shadow"

	// TypeTask records background work. Tasks change constantly and are
	// never cached.
	TypeTask = "task"
)

// Attribute names used on focus and shadow objects.
const (
	AttrAssignments = "assignments"
	AttrLinks       = "links"
	AttrName        = "name"

	AttrResource    = "resource"
	AttrKind        = "kind"
	AttrIntent      = "intent"
	AttrObjectClass = "object_class"
	AttrExternalID  = "external_id"
	AttrDead        = "dead"
	AttrAttributes  = "attributes"
	AttrOwner       = "owner"
)

// Object is a typed record in the authoritative store or on a resource.
type Object struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Version int64    `json:"version"`
	Attrs   IRObject `json:"attrs"`
}

// NewObject creates an object with an empty attribute set.
func NewObject(typ, id string) *Object {
	return &Object{Type: typ, ID: id, Attrs: IRObject{}}
}

// Clone returns a deep copy of the object. Clone of nil is nil.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Attrs = o.Attrs.Clone()
	if c.Attrs == nil {
		c.Attrs = IRObject{}
	}
	return &c
}

// Get returns the value at a dotted attribute path.
func (o *Object) Get(path string) (IRValue, bool) {
	if o == nil {
		return nil, false
	}
	return Lookup(o.Attrs, path)
}

// String returns the string value at path, or "" when absent or not a string.
func (o *Object) String(path string) string {
	v, ok := o.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(IRString)
	return string(s)
}

// Bool returns the boolean value at path, or false when absent.
func (o *Object) Bool(path string) bool {
	v, ok := o.Get(path)
	if !ok {
		return false
	}
	b, _ := v.(IRBool)
	return bool(b)
}

// Lookup walks a dotted path through nested objects.
func Lookup(attrs IRObject, path string) (IRValue, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur IRValue = attrs
	for _, p := range parts {
		obj, ok := cur.(IRObject)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Ref identifies an object by type and id.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Ref returns the object's reference.
func (o *Object) Ref() Ref {
	return Ref{Type: o.Type, ID: o.ID}
}
