package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Discovery reactions applied when a projection vanishes from its resource.
const (
	ReactionRecreate = "recreate"
	ReactionUnlink   = "unlink"
)

// ResourceDefinition describes one projection role on one resource: which
// object class it creates, how its attributes are computed from the focus,
// and how it relates to other roles.
type ResourceDefinition struct {
	Resource    string         `json:"resource"`
	Kind        string         `json:"kind"`
	Intent      string         `json:"intent"`
	ObjectClass ObjectClassDef `json:"object_class"`
	Required    bool           `json:"required,omitempty"`
	Mappings    []Mapping      `json:"mappings,omitempty"`
	Implies     []string       `json:"implies,omitempty"`    // discriminator keys
	DependsOn   []string       `json:"depends_on,omitempty"` // discriminator keys
	Reaction    string         `json:"reaction,omitempty"`
}

// Key returns the discriminator key "resource/kind/intent".
func (d ResourceDefinition) Key() string {
	return DiscriminatorKey(d.Resource, d.Kind, d.Intent)
}

// DiscriminatorKey joins the parts of a projection role.
func DiscriminatorKey(resource, kind, intent string) string {
	return resource + "/" + kind + "/" + intent
}

// ObjectClassDef names the object class a projection creates and which of
// its attributes identify an object on the resource.
type ObjectClassDef struct {
	Name                 string   `json:"name"`
	PrimaryIdentifiers   []string `json:"primary_identifiers,omitempty"`
	SecondaryIdentifiers []string `json:"secondary_identifiers,omitempty"`
}

// Identifiers returns primary then secondary identifier names.
func (c ObjectClassDef) Identifiers() []string {
	out := make([]string, 0, len(c.PrimaryIdentifiers)+len(c.SecondaryIdentifiers))
	out = append(out, c.PrimaryIdentifiers...)
	return append(out, c.SecondaryIdentifiers...)
}

// IsIdentifier reports whether attr is a primary or secondary identifier.
func (c ObjectClassDef) IsIdentifier(attr string) bool {
	for _, id := range c.Identifiers() {
		if id == attr {
			return true
		}
	}
	return false
}

// Mapping computes one projection attribute.
//
// Source forms:
//
//	focus.<path>                      attribute of the focus after the change
//	projection.<key>.<attr>           computed attribute of another projection
//	projection.<key>.$external_id     identifier assigned to another projection
//	                                  on its resource (bound at execution)
//
// A mapping with no Source emits Literal.
type Mapping struct {
	Target    string  `json:"target"`
	Source    string  `json:"source,omitempty"`
	Literal   IRValue `json:"-"`
	Transform string  `json:"transform,omitempty"`
}

// ExternalIDRef is the attribute name that late-binds another projection's
// external identifier.
const ExternalIDRef = "$external_id"

// ProjectionSource splits a projection.<key>.<attr> source. Keys contain
// slashes but no dots.
func (m Mapping) ProjectionSource() (key, attr string, ok bool) {
	rest, found := strings.CutPrefix(m.Source, "projection.")
	if !found {
		return "", "", false
	}
	key, attr, ok = strings.Cut(rest, ".")
	return key, attr, ok && key != "" && attr != ""
}

// FocusSource returns the focus attribute path of a focus.<path> source.
func (m Mapping) FocusSource() (string, bool) {
	path, ok := strings.CutPrefix(m.Source, "focus.")
	return path, ok && path != ""
}

// ResourceSet indexes resource definitions by discriminator key.
type ResourceSet struct {
	byKey map[string]ResourceDefinition
}

// NewResourceSet validates defs and indexes them. Duplicate keys and
// references to undefined keys are errors.
func NewResourceSet(defs ...ResourceDefinition) (*ResourceSet, error) {
	rs := &ResourceSet{byKey: make(map[string]ResourceDefinition, len(defs))}
	for _, d := range defs {
		if d.Resource == "" || d.Kind == "" || d.Intent == "" {
			return nil, fmt.Errorf("resource definition %q: resource, kind and intent are required", d.Key())
		}
		if d.ObjectClass.Name == "" {
			return nil, fmt.Errorf("resource definition %q: object class is required", d.Key())
		}
		if _, dup := rs.byKey[d.Key()]; dup {
			return nil, fmt.Errorf("duplicate resource definition %q", d.Key())
		}
		switch d.Reaction {
		case "", ReactionRecreate, ReactionUnlink:
		default:
			return nil, fmt.Errorf("resource definition %q: unknown reaction %q", d.Key(), d.Reaction)
		}
		rs.byKey[d.Key()] = d
	}
	for _, d := range rs.byKey {
		for _, ref := range append(append([]string{}, d.Implies...), d.DependsOn...) {
			if _, ok := rs.byKey[ref]; !ok {
				return nil, fmt.Errorf("resource definition %q references undefined %q", d.Key(), ref)
			}
		}
		for _, m := range d.Mappings {
			if m.Target == "" {
				return nil, fmt.Errorf("resource definition %q: mapping without target", d.Key())
			}
			if err := ValidateTransform(m.Transform); err != nil {
				return nil, fmt.Errorf("resource definition %q: mapping %q: %w", d.Key(), m.Target, err)
			}
			if key, _, ok := m.ProjectionSource(); ok {
				if _, defined := rs.byKey[key]; !defined {
					return nil, fmt.Errorf("resource definition %q: mapping %q references undefined %q", d.Key(), m.Target, key)
				}
			} else if _, ok := m.FocusSource(); !ok && m.Source != "" {
				return nil, fmt.Errorf("resource definition %q: mapping %q has unsupported source %q", d.Key(), m.Target, m.Source)
			}
		}
	}
	return rs, nil
}

// Get returns the definition for a discriminator key.
func (rs *ResourceSet) Get(key string) (ResourceDefinition, bool) {
	if rs == nil {
		return ResourceDefinition{}, false
	}
	d, ok := rs.byKey[key]
	return d, ok
}

// Keys returns all discriminator keys in sorted order.
func (rs *ResourceSet) Keys() []string {
	if rs == nil {
		return nil
	}
	keys := make([]string, 0, len(rs.byKey))
	for k := range rs.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of definitions.
func (rs *ResourceSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.byKey)
}

// NewShadow builds the live shadow for an object on a resource. Its id is
// derived from the projection role and the external id.
func NewShadow(def ResourceDefinition, externalID, owner string, attrs IRObject) *Object {
	if attrs == nil {
		attrs = IRObject{}
	}
	shadow := &Object{
		Type: TypeShadow,
		ID:   ShadowID(def.Resource, def.Kind, def.Intent, externalID),
		Attrs: IRObject{
			AttrResource:    IRString(def.Resource),
			AttrKind:        IRString(def.Kind),
			AttrIntent:      IRString(def.Intent),
			AttrObjectClass: IRString(def.ObjectClass.Name),
			AttrExternalID:  IRString(externalID),
			AttrDead:        IRBool(false),
			AttrAttributes:  attrs.Clone(),
		},
	}
	if owner != "" {
		shadow.Attrs[AttrOwner] = IRString(owner)
	}
	return shadow
}
