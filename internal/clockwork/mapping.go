package clockwork

import (
	"fmt"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
)

// evalMappings computes a projection's attributes. Cross-projection sources
// read the previous fixed-point iteration. A $external_id source of a
// projection that is still being added cannot be known yet; its target is
// returned as late-bound.
func evalMappings(
	def ir.ResourceDefinition,
	focus *ir.Object,
	prev map[string]ir.IRObject,
	external map[string]string,
	adding map[string]bool,
) (ir.IRObject, []string, error) {
	attrs := ir.IRObject{}
	var late []string

	for _, m := range def.Mappings {
		var (
			v  ir.IRValue
			ok bool
		)
		if path, isFocus := m.FocusSource(); isFocus {
			v, ok = focus.Get(path)
		} else if key, attr, isProjection := m.ProjectionSource(); isProjection {
			switch {
			case attr == ir.ExternalIDRef && external[key] != "":
				v, ok = ir.IRString(external[key]), true
			case attr == ir.ExternalIDRef && adding[key]:
				late = append(late, m.Target)
				continue
			case attr != ir.ExternalIDRef:
				v, ok = ir.Lookup(prev[key], attr)
			}
		} else if m.Source == "" {
			v, ok = m.Literal, m.Literal != nil
		} else {
			return nil, nil, fmt.Errorf("mapping %s: unsupported source %q", m.Target, m.Source)
		}

		if !ok {
			continue
		}
		if _, isNull := v.(ir.IRNull); isNull {
			continue
		}
		out, err := m.ApplyTransform(v)
		if err != nil {
			return nil, nil, err
		}
		attrs[m.Target] = out
	}
	return attrs, late, nil
}

// bindLate fills the late-bound modifications of delta with the external
// ids assigned during execution.
func bindLate(c *model.Context, def ir.ResourceDefinition, delta *ir.ObjectDelta) error {
	for i, mod := range delta.Modifications {
		m, found := mappingFor(def, mod.Path)
		if !found {
			return fmt.Errorf("late-bound %s: no mapping", mod.Path)
		}
		key, _, _ := m.ProjectionSource()
		ref := c.Projection(key)
		if ref == nil || ref.ExternalID == "" {
			return fmt.Errorf("late-bound %s: %s has no external id", mod.Path, key)
		}
		v, err := m.ApplyTransform(ir.IRString(ref.ExternalID))
		if err != nil {
			return err
		}
		delta.Modifications[i].Values = ir.IRArray{v}
	}
	return nil
}

func mappingFor(def ir.ResourceDefinition, target string) (ir.Mapping, bool) {
	for _, m := range def.Mappings {
		if m.Target == target {
			if _, attr, ok := m.ProjectionSource(); ok && attr == ir.ExternalIDRef {
				return m, true
			}
		}
	}
	return ir.Mapping{}, false
}
