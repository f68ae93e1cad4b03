package clockwork

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
)

// Assignment defaults when the focus omits kind or intent.
const (
	DefaultKind   = "account"
	DefaultIntent = "default"
)

// link is a shadow referenced by the focus before or after the change.
type link struct {
	shadow *ir.Object
	// kept: the focus still references the shadow after the primary change.
	kept bool
}

// plan is one iteration of the projection fixed point.
type plan struct {
	keys  map[string]bool
	attrs map[string]ir.IRObject
	late  map[string][]string
}

func (p plan) equal(o plan) bool {
	if len(p.keys) != len(o.keys) || len(p.attrs) != len(o.attrs) || len(p.late) != len(o.late) {
		return false
	}
	for k := range p.keys {
		if !o.keys[k] {
			return false
		}
	}
	for k, a := range p.attrs {
		b, ok := o.attrs[k]
		if !ok || !ir.Equal(a, b) {
			return false
		}
	}
	for k, a := range p.late {
		if strings.Join(a, "\x00") != strings.Join(o.late[k], "\x00") {
			return false
		}
	}
	return true
}

// computeProjections decides every projection of the focus and derives its
// deltas. Implied assignments and cross-projection mappings are iterated to
// a fixed point bounded by maxIterations.
func (cw *Clockwork) computeProjections(ctx context.Context, c *model.Context) error {
	const phase = model.PhaseFocus
	f := c.Focus

	focusNew, err := primaryApplied(f)
	if err != nil {
		return newError(KindSchemaInvalid, phase, err, "apply primary change")
	}

	explicit, err := parseAssignments(focusNew)
	if err != nil {
		return newError(KindSchemaInvalid, phase, err, "focus %s", f.OID)
	}
	for _, key := range explicit {
		if _, ok := cw.resources.Get(key); !ok {
			return newError(KindSchemaInvalid, phase, nil, "assignment to undefined resource %s", key)
		}
	}

	links, cleanup, err := cw.loadLinks(ctx, f.Old, focusNew)
	if err != nil {
		return err
	}

	current := plan{keys: make(map[string]bool, len(explicit))}
	for _, key := range explicit {
		current.keys[key] = true
	}

	iterations := 0
	for {
		if iterations >= cw.maxIterations {
			return newError(KindFatal, phase, nil, "projections did not converge after %d iterations", iterations)
		}
		iterations++

		next, err := cw.step(current, links, focusNew)
		if err != nil {
			return newError(KindSchemaInvalid, phase, err, "compute projections")
		}
		if next.equal(current) {
			break
		}
		current = next
	}

	projections := make([]*model.Projection, 0, len(current.keys)+len(links))
	secondary := []ir.ItemDelta{}
	for _, key := range unionKeys(current.keys, links) {
		p, err := cw.buildProjection(key, current, links)
		if err != nil {
			return newError(KindSchemaInvalid, phase, err, "projection %s", key)
		}
		if p.Decision == model.DecisionDelete {
			secondary = append(secondary, ir.DeleteValues(ir.AttrLinks, ir.IRString(p.ShadowOID)))
		}
		projections = append(projections, p)
	}
	for _, id := range cleanup {
		secondary = append(secondary, ir.DeleteValues(ir.AttrLinks, ir.IRString(id)))
	}

	if err := assignWaves(projections, cw.resources); err != nil {
		return newError(KindFatal, phase, err, "order projections")
	}

	derived := focusNew
	if derived != nil && len(secondary) > 0 {
		attrs, err := ir.ApplyItems(derived.Attrs, secondary)
		if err != nil {
			return newError(KindSchemaInvalid, phase, err, "derive focus")
		}
		derived = derived.Clone()
		derived.Attrs = attrs
	}

	c.Projections = make([]*model.Projection, 0, len(projections))
	for _, p := range projections {
		c.PutProjection(p)
	}
	f.Secondary = secondary
	f.New = derived
	c.Iterations = iterations
	c.Derivation = model.DerivationDerived
	c.Phase = model.PhaseProjection

	cw.logger.Debug("projections computed",
		"context", c.ID,
		"projections", len(projections),
		"iterations", iterations)
	return nil
}

// step performs one fixed-point iteration: implied assignments are expanded
// by one level and mappings are evaluated against the previous iteration.
func (cw *Clockwork) step(prev plan, links map[string]link, focus *ir.Object) (plan, error) {
	next := plan{
		keys:  make(map[string]bool, len(prev.keys)),
		attrs: make(map[string]ir.IRObject),
		late:  make(map[string][]string),
	}
	for key := range prev.keys {
		next.keys[key] = true
		def, _ := cw.resources.Get(key)
		for _, implied := range def.Implies {
			next.keys[implied] = true
		}
	}

	external := make(map[string]string)
	adding := make(map[string]bool)
	for key := range next.keys {
		switch decide(key, next.keys, links) {
		case model.DecisionKeep:
			external[key] = links[key].shadow.String(ir.AttrExternalID)
		case model.DecisionAdd:
			adding[key] = true
		}
	}

	for key := range next.keys {
		d := decide(key, next.keys, links)
		if d != model.DecisionKeep && d != model.DecisionAdd {
			continue
		}
		def, _ := cw.resources.Get(key)
		attrs, late, err := evalMappings(def, focus, prev.attrs, external, adding)
		if err != nil {
			return plan{}, fmt.Errorf("%s: %w", key, err)
		}
		next.attrs[key] = attrs
		if len(late) > 0 {
			next.late[key] = late
		}
	}
	return next, nil
}

// decide assigns the policy decision for key.
func decide(key string, assigned map[string]bool, links map[string]link) model.Decision {
	l, linked := links[key]
	switch {
	case linked && !l.kept:
		return model.DecisionUnlink
	case linked && assigned[key]:
		return model.DecisionKeep
	case assigned[key]:
		return model.DecisionAdd
	default:
		return model.DecisionDelete
	}
}

func (cw *Clockwork) buildProjection(key string, pl plan, links map[string]link) (*model.Projection, error) {
	l, linked := links[key]
	def, hasDef := cw.resources.Get(key)
	decision := decide(key, pl.keys, links)

	p := &model.Projection{Decision: decision, Attributes: ir.IRObject{}}
	switch {
	case hasDef:
		p.Discriminator = model.Discriminator{Resource: def.Resource, Kind: def.Kind, Intent: def.Intent}
		p.Required = def.Required
	case linked:
		p.Discriminator = shadowDiscriminator(l.shadow)
	default:
		return nil, fmt.Errorf("no resource definition")
	}
	if linked {
		p.ShadowOID = l.shadow.ID
		p.ExternalID = l.shadow.String(ir.AttrExternalID)
	}
	class := def.ObjectClass.Name
	if linked && class == "" {
		class = l.shadow.String(ir.AttrObjectClass)
	}
	if attrs, ok := pl.attrs[key]; ok {
		p.Attributes = attrs
	}

	var lateMods []ir.ItemDelta
	for _, target := range pl.late[key] {
		lateMods = append(lateMods, ir.Replace(target))
	}

	switch decision {
	case model.DecisionAdd:
		p.Primary = ir.NewAddDelta(&ir.Object{Type: class, Attrs: p.Attributes.Clone()})
		if len(lateMods) > 0 {
			p.Secondary = ir.NewModifyDelta(class, "", lateMods...)
		}
	case model.DecisionKeep:
		stored, _ := l.shadow.Attrs[ir.AttrAttributes].(ir.IRObject)
		if mods := ir.Diff("", stored, p.Attributes); len(mods) > 0 {
			p.Primary = ir.NewModifyDelta(class, p.ExternalID, mods...)
		}
		if len(lateMods) > 0 {
			p.Secondary = ir.NewModifyDelta(class, p.ExternalID, lateMods...)
		}
	case model.DecisionDelete:
		p.Primary = ir.NewDeleteDelta(class, p.ExternalID)
	case model.DecisionUnlink:
		p.Primary = ir.NewModifyDelta(ir.TypeShadow, p.ShadowOID, ir.Replace(ir.AttrOwner))
	}
	return p, nil
}

// loadLinks reads every shadow the focus references before or after the
// change. Links to missing or dead shadows that the focus still holds are
// returned as cleanup.
func (cw *Clockwork) loadLinks(ctx context.Context, old, focusNew *ir.Object) (map[string]link, []string, error) {
	const phase = model.PhaseFocus

	before, err := linkIDs(old)
	if err != nil {
		return nil, nil, newError(KindSchemaInvalid, phase, err, "focus before change")
	}
	after, err := linkIDs(focusNew)
	if err != nil {
		return nil, nil, newError(KindSchemaInvalid, phase, err, "focus after change")
	}
	kept := make(map[string]bool, len(after))
	for _, id := range after {
		kept[id] = true
	}
	if focusNew == nil {
		// Deleting the focus deletes its projections instead of unlinking them.
		for _, id := range before {
			kept[id] = true
		}
	}

	ids := append(append([]string{}, before...), after...)
	sort.Strings(ids)

	links := make(map[string]link)
	var cleanup []string
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		shadow, err := cw.repo.Get(ctx, ir.TypeShadow, id, &repo.GetOptions{AllowNotFound: true})
		if err != nil {
			return nil, nil, newError(Classify(err), phase, err, "load shadow %s", id)
		}
		if shadow == nil || shadow.Bool(ir.AttrDead) {
			if kept[id] {
				cleanup = append(cleanup, id)
			}
			continue
		}
		key := shadowDiscriminator(shadow).Key()
		if other, dup := links[key]; dup {
			return nil, nil, newError(KindConflict, phase, nil, "projection %s linked twice (%s, %s)", key, other.shadow.ID, id)
		}
		links[key] = link{shadow: shadow, kept: kept[id]}
	}
	return links, cleanup, nil
}

func shadowDiscriminator(shadow *ir.Object) model.Discriminator {
	return model.Discriminator{
		Resource: shadow.String(ir.AttrResource),
		Kind:     shadow.String(ir.AttrKind),
		Intent:   shadow.String(ir.AttrIntent),
	}
}

func unionKeys(keys map[string]bool, links map[string]link) []string {
	all := make([]string, 0, len(keys)+len(links))
	for k := range keys {
		all = append(all, k)
	}
	for k := range links {
		if !keys[k] {
			all = append(all, k)
		}
	}
	sort.Strings(all)
	return all
}

// parseAssignments returns the sorted, de-duplicated discriminator keys the
// focus is assigned. An assignment is either a "resource/kind/intent"
// string or an object with resource and optional kind and intent.
func parseAssignments(focus *ir.Object) ([]string, error) {
	if focus == nil {
		return nil, nil
	}
	v, _ := focus.Get(ir.AttrAssignments)
	seen := map[string]bool{}
	var keys []string
	for i, a := range ir.Values(v) {
		var d model.Discriminator
		switch val := a.(type) {
		case ir.IRString:
			parts := strings.Split(string(val), "/")
			if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
				return nil, fmt.Errorf("assignment %d: %q is not resource/kind/intent", i, val)
			}
			d = model.Discriminator{Resource: parts[0], Kind: parts[1], Intent: parts[2]}
		case ir.IRObject:
			obj := &ir.Object{Attrs: val}
			d = model.Discriminator{
				Resource: obj.String(ir.AttrResource),
				Kind:     obj.String(ir.AttrKind),
				Intent:   obj.String(ir.AttrIntent),
			}
			if d.Resource == "" {
				return nil, fmt.Errorf("assignment %d: no resource", i)
			}
			if d.Kind == "" {
				d.Kind = DefaultKind
			}
			if d.Intent == "" {
				d.Intent = DefaultIntent
			}
		default:
			return nil, fmt.Errorf("assignment %d: unexpected %T", i, a)
		}
		if key := d.Key(); !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// linkIDs returns the shadow ids the focus links to.
func linkIDs(focus *ir.Object) ([]string, error) {
	if focus == nil {
		return nil, nil
	}
	v, _ := focus.Get(ir.AttrLinks)
	var ids []string
	for i, l := range ir.Values(v) {
		s, ok := l.(ir.IRString)
		if !ok || s == "" {
			return nil, fmt.Errorf("link %d: not a shadow id", i)
		}
		ids = append(ids, string(s))
	}
	return ids, nil
}
