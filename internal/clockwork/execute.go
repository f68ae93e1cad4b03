package clockwork

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/constraint"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
)

// linkChanges collects the focus link edits produced by execution.
type linkChanges struct {
	add    map[string]bool
	remove map[string]bool
}

func newLinkChanges(secondary []ir.ItemDelta) *linkChanges {
	lc := &linkChanges{add: map[string]bool{}, remove: map[string]bool{}}
	for _, mod := range secondary {
		if mod.Path != ir.AttrLinks || mod.Op != ir.OpDelete {
			continue
		}
		for _, v := range mod.Values {
			if s, ok := v.(ir.IRString); ok {
				lc.remove[string(s)] = true
			}
		}
	}
	return lc
}

func (lc *linkChanges) mods() []ir.ItemDelta {
	var mods []ir.ItemDelta
	if vals := sortedValues(lc.remove); len(vals) > 0 {
		mods = append(mods, ir.DeleteValues(ir.AttrLinks, vals...))
	}
	if vals := sortedValues(lc.add); len(vals) > 0 {
		mods = append(mods, ir.AddValues(ir.AttrLinks, vals...))
	}
	return mods
}

func sortedValues(set map[string]bool) []ir.IRValue {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]ir.IRValue, len(keys))
	for i, k := range keys {
		vals[i] = ir.IRString(k)
	}
	return vals
}

// execute applies the focus change, then every pending projection wave by
// wave, then the focus link edits. Projection failures are recorded on the
// projection and never stop independent projections.
func (cw *Clockwork) execute(ctx context.Context, c *model.Context) {
	if !cw.executeFocus(ctx, c) {
		for _, p := range c.Projections {
			if p.Pending() {
				p.Result = model.OperationResult{Status: model.StatusSkipped, Message: "focus change failed"}
				p.Primary, p.Secondary = nil, nil
			}
		}
		c.Focus.Secondary = []ir.ItemDelta{}
		c.Phase = model.PhaseExecution
		return
	}

	changes := newLinkChanges(c.Focus.Secondary)
	present := make(map[string]bool, len(c.Projections))
	for _, p := range c.Projections {
		present[p.Key()] = true
	}
	failed := map[string]bool{}

	for _, p := range executionOrder(c) {
		key := p.Key()
		if !p.Pending() {
			if p.Result.Status == "" {
				p.Result = model.OperationResult{Status: model.StatusSuccess, Message: "unchanged"}
			}
			failed[key] = p.Result.Status.Failed()
			continue
		}
		// A DELETE never waits on its dependencies: they are removed after it.
		if dep := firstFailed(dependencies(p, present, cw.resources), failed); dep != "" && p.Decision != model.DecisionDelete {
			p.Result = model.OperationResult{Status: model.StatusSkipped, Message: "dependency " + dep + " failed"}
			p.Primary, p.Secondary = nil, nil
			cw.cancelRemoval(p, changes)
			failed[key] = true
			continue
		}

		switch p.Decision {
		case model.DecisionAdd:
			cw.executeAdd(ctx, c, p, changes)
		case model.DecisionKeep:
			cw.executeKeep(ctx, c, p, changes)
		case model.DecisionDelete:
			cw.executeDelete(ctx, c, p, changes)
		case model.DecisionUnlink:
			cw.executeUnlink(ctx, c, p)
		}
		failed[key] = p.Result.Status.Failed()
	}

	cw.maintainLinks(ctx, c, changes)
	c.Phase = model.PhaseExecution
}

func firstFailed(deps []string, failed map[string]bool) string {
	for _, d := range deps {
		if failed[d] {
			return d
		}
	}
	return ""
}

// executeFocus writes the primary change to the authoritative store.
func (cw *Clockwork) executeFocus(ctx context.Context, c *model.Context) bool {
	f := c.Focus
	delta := f.Primary
	if delta.IsEmpty() {
		f.Primary = nil
		return true
	}

	var err error
	switch delta.ChangeType {
	case ir.ChangeAdd:
		_, err = cw.repo.Add(ctx, delta.Object.Clone(), nil)
	case ir.ChangeModify:
		err = cw.repo.Modify(ctx, f.Type, f.OID, delta.Modifications, nil)
	case ir.ChangeDelete:
		err = cw.repo.Delete(ctx, f.Type, f.OID)
	}
	f.Primary = nil

	if err != nil {
		c.Record(nil, delta, model.OperationResult{Status: model.StatusFailed, Message: err.Error()})
		cw.logger.Error("focus change failed",
			"context", c.ID,
			"focus", f.OID,
			"kind", Classify(err),
			"error", err)
		return false
	}
	c.Record(nil, delta, model.OperationResult{Status: model.StatusSuccess})
	return true
}

func (cw *Clockwork) executeAdd(ctx context.Context, c *model.Context, p *model.Projection, changes *linkChanges) {
	def, _ := cw.resources.Get(p.Key())
	delta := p.Primary

	if !cw.checkUnique(ctx, c, p, def, "", delta.Object.Attrs) {
		return
	}

	result, err := cw.connector.Apply(ctx, p.Discriminator.Resource, delta)
	if err != nil {
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
		return
	}
	applied := delta.Clone()
	applied.OID = result.ExternalID
	p.ExternalID = result.ExternalID

	shadow := ir.NewShadow(def, result.ExternalID, c.Focus.OID, result.Attributes)
	if _, err := cw.repo.Add(ctx, shadow, nil); err != nil {
		cw.settle(c, p, applied, model.StatusFailed, fmt.Sprintf("created %s but storing its shadow failed: %v", result.ExternalID, err))
		cw.rollbackAdd(ctx, c, p, def)
		return
	}
	p.ShadowOID = shadow.ID
	changes.add[shadow.ID] = true
	p.Primary = nil
	cw.record(c, p, applied, model.StatusSuccess, "")

	cw.executeSecondary(ctx, c, p, def)
}

func (cw *Clockwork) executeKeep(ctx context.Context, c *model.Context, p *model.Projection, changes *linkChanges) {
	def, _ := cw.resources.Get(p.Key())
	delta := p.Primary
	if delta == nil {
		cw.executeSecondary(ctx, c, p, def)
		return
	}

	if changesIdentifier(delta, def.ObjectClass) && !cw.checkUnique(ctx, c, p, def, p.ShadowOID, p.Attributes) {
		return
	}

	result, err := cw.connector.Apply(ctx, p.Discriminator.Resource, delta)
	switch {
	case connector.IsNotFound(err):
		if !cw.compensateModify(ctx, c, p, delta, err, changes) {
			return
		}
	case err != nil:
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
		return
	default:
		if err := cw.storeAttributes(ctx, p.ShadowOID, result.Attributes); err != nil {
			cw.settle(c, p, delta, model.StatusFailed, fmt.Sprintf("applied but storing shadow failed: %v", err))
			return
		}
		p.Primary = nil
		cw.record(c, p, delta, model.StatusSuccess, "")
	}

	cw.executeSecondary(ctx, c, p, def)
}

// compensateModify hands a vanished KEEP target to discovery. It reports
// whether the projection still has a live external object afterwards.
func (cw *Clockwork) compensateModify(ctx context.Context, c *model.Context, p *model.Projection, delta *ir.ObjectDelta, cause error, changes *linkChanges) bool {
	if cw.compensator == nil {
		cw.settle(c, p, delta, model.StatusNotFound, cause.Error())
		return false
	}
	shadow, err := cw.repo.Get(ctx, ir.TypeShadow, p.ShadowOID, nil)
	if err != nil {
		cw.settle(c, p, delta, model.StatusFailed, fmt.Sprintf("%v; load shadow: %v", cause, err))
		return false
	}

	res, err := cw.compensator.HandleNotFound(ctx, discovery.Request{
		Shadow: shadow,
		Op:     discovery.OpModify,
		Delta:  delta,
		Cause:  cause,
	})
	if err != nil {
		if res != nil && res.Kind == discovery.Replaced {
			// The old shadow is gone and the replacement is live: link it
			// even though the pending change did not reach it.
			cw.adopt(p, res.Shadow, changes)
			cw.settle(c, p, res.Delta, model.StatusFailed, err.Error())
			return false
		}
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
		return false
	}

	switch res.Kind {
	case discovery.Replaced:
		cw.adopt(p, res.Shadow, changes)
		if err := cw.storeAttributes(ctx, p.ShadowOID, res.Result.Attributes); err != nil {
			cw.logger.Warn("replacement shadow not refreshed", "shadow", p.ShadowOID, "error", err)
		}
		p.Primary = nil
		cw.record(c, p, res.Delta, model.StatusHandled, fmt.Sprintf("re-applied to replacement %s", p.ExternalID))
		return true
	default:
		changes.remove[p.ShadowOID] = true
		p.ShadowOID = ""
		p.ExternalID = ""
		p.Primary, p.Secondary = nil, nil
		cw.record(c, p, delta, model.StatusHandled, "no action: external object vanished")
		return false
	}
}

// adopt points p at a replacement shadow and swaps the focus link.
func (cw *Clockwork) adopt(p *model.Projection, replacement *ir.Object, changes *linkChanges) {
	changes.remove[p.ShadowOID] = true
	p.ShadowOID = replacement.ID
	p.ExternalID = replacement.String(ir.AttrExternalID)
	changes.add[p.ShadowOID] = true
}

func (cw *Clockwork) executeDelete(ctx context.Context, c *model.Context, p *model.Projection, changes *linkChanges) {
	delta := p.Primary
	_, err := cw.connector.Apply(ctx, p.Discriminator.Resource, delta)
	switch {
	case connector.IsNotFound(err):
		shadow, gerr := cw.repo.Get(ctx, ir.TypeShadow, p.ShadowOID, &repo.GetOptions{AllowNotFound: true})
		if gerr != nil {
			cw.cancelRemoval(p, changes)
			cw.settle(c, p, delta, model.StatusFailed, gerr.Error())
			return
		}
		if shadow != nil && cw.compensator != nil {
			if _, cerr := cw.compensator.HandleNotFound(ctx, discovery.Request{
				Shadow: shadow,
				Op:     discovery.OpDelete,
				Cause:  err,
			}); cerr != nil {
				cw.cancelRemoval(p, changes)
				cw.settle(c, p, delta, model.StatusFailed, cerr.Error())
				return
			}
		} else if shadow != nil {
			if err := cw.dropShadow(ctx, p.ShadowOID); err != nil {
				cw.cancelRemoval(p, changes)
				cw.settle(c, p, delta, model.StatusFailed, err.Error())
				return
			}
		}
		cw.settle(c, p, delta, model.StatusHandled, "already absent")
	case err != nil:
		cw.cancelRemoval(p, changes)
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
	default:
		if err := cw.dropShadow(ctx, p.ShadowOID); err != nil {
			cw.cancelRemoval(p, changes)
			cw.settle(c, p, delta, model.StatusFailed, fmt.Sprintf("deleted %s but its shadow remains: %v", p.ExternalID, err))
			return
		}
		cw.settle(c, p, delta, model.StatusSuccess, "")
	}
}

// rollbackAdd deletes an external object whose shadow could not be stored.
// Unrecorded, it would be created a second time by the next attempt.
func (cw *Clockwork) rollbackAdd(ctx context.Context, c *model.Context, p *model.Projection, def ir.ResourceDefinition) {
	undo := ir.NewDeleteDelta(def.ObjectClass.Name, p.ExternalID)
	_, err := cw.connector.Apply(ctx, p.Discriminator.Resource, undo)
	if err != nil && !connector.IsNotFound(err) {
		c.Record(p, undo, model.OperationResult{Status: model.StatusFailed, Message: err.Error()})
		cw.logger.Error("created object left without a shadow",
			"context", c.ID,
			"projection", p.Key(),
			"external_id", p.ExternalID,
			"error", err)
		return
	}
	c.Record(p, undo, model.OperationResult{Status: model.StatusSuccess, Message: "rolled back"})
	p.ExternalID = ""
}

func (cw *Clockwork) executeUnlink(ctx context.Context, c *model.Context, p *model.Projection) {
	delta := p.Primary
	err := cw.repo.Modify(ctx, ir.TypeShadow, p.ShadowOID, delta.Modifications, nil)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		cw.settle(c, p, delta, model.StatusHandled, "shadow already absent")
	case err != nil:
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
	default:
		cw.settle(c, p, delta, model.StatusSuccess, "")
	}
}

// executeSecondary applies the late-bound modifications once every
// referenced projection has its external id.
func (cw *Clockwork) executeSecondary(ctx context.Context, c *model.Context, p *model.Projection, def ir.ResourceDefinition) {
	if p.Secondary == nil {
		return
	}
	delta := p.Secondary.Clone()
	delta.OID = p.ExternalID
	p.Secondary = nil

	if err := bindLate(c, def, delta); err != nil {
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
		return
	}
	result, err := cw.connector.Apply(ctx, p.Discriminator.Resource, delta)
	if err != nil {
		cw.settle(c, p, delta, model.StatusFailed, err.Error())
		return
	}
	if err := cw.storeAttributes(ctx, p.ShadowOID, result.Attributes); err != nil {
		cw.settle(c, p, delta, model.StatusFailed, fmt.Sprintf("applied but storing shadow failed: %v", err))
		return
	}
	for _, mod := range delta.Modifications {
		p.Attributes[mod.Path] = ir.CloneValue(mod.Values[0])
	}
	cw.record(c, p, delta, model.StatusSuccess, "")
}

// checkUnique runs the constraint checker. On conflict the projection is
// marked BROKEN and excluded from further execution.
func (cw *Clockwork) checkUnique(ctx context.Context, c *model.Context, p *model.Projection, def ir.ResourceDefinition, knownID string, attrs ir.IRObject) bool {
	if cw.checker == nil {
		return true
	}
	res, err := cw.checker.Check(ctx, def.ObjectClass, constraint.Candidate{
		Resource:    p.Discriminator.Resource,
		KnownID:     knownID,
		ObjectClass: def.ObjectClass.Name,
		Attributes:  attrs,
	})
	if err != nil {
		cw.settle(c, p, p.Primary, model.StatusFailed, fmt.Sprintf("uniqueness check: %v", err))
		return false
	}
	if res.Satisfies {
		return true
	}

	conflict := &model.Conflict{Attributes: res.ConflictingAttrs}
	if res.Conflicting != nil {
		conflict.ShadowOID = res.Conflicting.ID
		conflict.ExternalID = res.Conflicting.String(ir.AttrExternalID)
	}
	delta := p.Primary
	p.Decision = model.DecisionBroken
	p.Conflict = conflict
	cw.settle(c, p, delta, model.StatusConflict, fmt.Sprintf("conflicts with %s on %v", conflict.ShadowOID, conflict.Attributes))
	cw.logger.Warn("projection broken by uniqueness conflict",
		"context", c.ID,
		"projection", p.Key(),
		"conflicting", conflict.ShadowOID)
	return false
}

func changesIdentifier(delta *ir.ObjectDelta, class ir.ObjectClassDef) bool {
	for _, attr := range class.Identifiers() {
		if delta.Touches(attr) {
			return true
		}
	}
	return false
}

// maintainLinks writes the link edits to the focus and refreshes Focus.New
// from the store. A deleted focus has nothing to maintain.
func (cw *Clockwork) maintainLinks(ctx context.Context, c *model.Context, changes *linkChanges) {
	f := c.Focus
	f.Secondary = []ir.ItemDelta{}
	if f.New == nil {
		return
	}

	if mods := changes.mods(); len(mods) > 0 {
		delta := ir.NewModifyDelta(f.Type, f.OID, mods...)
		if err := cw.repo.Modify(ctx, f.Type, f.OID, mods, nil); err != nil {
			c.Record(nil, delta, model.OperationResult{Status: model.StatusFailed, Message: fmt.Sprintf("update links: %v", err)})
			cw.logger.Error("focus links not updated",
				"context", c.ID,
				"focus", f.OID,
				"error", err)
			return
		}
		c.Record(nil, delta, model.OperationResult{Status: model.StatusSuccess})
	}

	fresh, err := cw.repo.Get(ctx, f.Type, f.OID, nil)
	if err != nil {
		cw.logger.Warn("focus not refreshed", "focus", f.OID, "error", err)
		return
	}
	f.New = fresh
}

func (cw *Clockwork) cancelRemoval(p *model.Projection, changes *linkChanges) {
	if p.Decision == model.DecisionDelete {
		delete(changes.remove, p.ShadowOID)
	}
}

func (cw *Clockwork) storeAttributes(ctx context.Context, shadowID string, attrs ir.IRObject) error {
	if attrs == nil {
		attrs = ir.IRObject{}
	}
	return cw.repo.Modify(ctx, ir.TypeShadow, shadowID, []ir.ItemDelta{ir.Replace(ir.AttrAttributes, attrs)}, nil)
}

// dropShadow removes the shadow of a deleted external object. If the delete
// fails the shadow is marked dead instead, so its identifier values stop
// counting against uniqueness. An error means the shadow is still live.
func (cw *Clockwork) dropShadow(ctx context.Context, id string) error {
	err := cw.repo.Delete(ctx, ir.TypeShadow, id)
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	cw.logger.Warn("shadow not deleted, marking it dead", "shadow", id, "error", err)
	mods := []ir.ItemDelta{ir.Replace(ir.AttrDead, ir.IRBool(true))}
	if merr := cw.repo.Modify(ctx, ir.TypeShadow, id, mods, &repo.WriteOptions{Raw: true}); merr != nil {
		return fmt.Errorf("delete shadow %s: %v; mark dead: %w", id, err, merr)
	}
	return nil
}

// settle records the final attempt of a projection and drops its pending
// deltas.
func (cw *Clockwork) settle(c *model.Context, p *model.Projection, delta *ir.ObjectDelta, status model.Status, msg string) {
	p.Primary, p.Secondary = nil, nil
	cw.record(c, p, delta, status, msg)
}

func (cw *Clockwork) record(c *model.Context, p *model.Projection, delta *ir.ObjectDelta, status model.Status, msg string) {
	result := model.OperationResult{Status: status, Message: msg}
	c.Record(p, delta, result)
	p.Result = result
	operations.WithLabelValues(p.Discriminator.Resource, string(status)).Inc()
}
