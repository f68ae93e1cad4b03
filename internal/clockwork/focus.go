package clockwork

import (
	"context"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
)

// computeFocus validates the primary change, loads the current focus and
// computes the focus after the change. The context is only modified once
// every step has succeeded.
func (cw *Clockwork) computeFocus(ctx context.Context, c *model.Context) error {
	const phase = model.PhaseInitial
	f := c.Focus
	delta := f.Primary

	if f.Type == "" {
		return newError(KindSchemaInvalid, phase, nil, "focus has no type")
	}
	if delta == nil {
		return newError(KindSchemaInvalid, phase, nil, "no primary change")
	}
	if delta.Type != f.Type {
		return newError(KindSchemaInvalid, phase, nil, "change type %q does not match focus type %q", delta.Type, f.Type)
	}

	oid := f.OID
	switch {
	case delta.ChangeType == ir.ChangeAdd && delta.Object != nil && oid == "":
		oid = delta.Object.ID
	case delta.ChangeType != ir.ChangeAdd && oid == "":
		oid = delta.OID
	}
	if oid == "" {
		return newError(KindSchemaInvalid, phase, nil, "focus has no id")
	}
	if delta.ChangeType != ir.ChangeAdd && delta.OID != "" && delta.OID != oid {
		return newError(KindSchemaInvalid, phase, nil, "change targets %s, focus is %s", delta.OID, oid)
	}

	primary := delta.Clone()
	if primary.ChangeType == ir.ChangeAdd {
		if primary.Object != nil {
			primary.Object.ID = oid
			primary.Object.Type = f.Type
		}
	}
	primary.OID = oid
	if err := primary.Validate(); err != nil {
		return newError(KindSchemaInvalid, phase, err, "invalid primary change")
	}

	var old *ir.Object
	if primary.ChangeType == ir.ChangeAdd {
		existing, err := cw.repo.Get(ctx, f.Type, oid, &repo.GetOptions{AllowNotFound: true})
		if err != nil {
			return newError(Classify(err), phase, err, "load focus %s", oid)
		}
		if existing != nil {
			return newError(KindConflict, phase, repo.ErrAlreadyExists, "focus %s already exists", oid)
		}
	} else {
		loaded, err := cw.repo.Get(ctx, f.Type, oid, nil)
		if err != nil {
			return newError(Classify(err), phase, err, "load focus %s", oid)
		}
		old = loaded
	}

	newFocus, err := ir.Apply(old, primary)
	if err != nil {
		return newError(KindSchemaInvalid, phase, err, "apply primary change")
	}
	if newFocus != nil {
		if _, err := parseAssignments(newFocus); err != nil {
			return newError(KindSchemaInvalid, phase, err, "focus %s", oid)
		}
		if _, err := linkIDs(newFocus); err != nil {
			return newError(KindSchemaInvalid, phase, err, "focus %s", oid)
		}
	}

	f.OID = oid
	f.Primary = primary
	f.Old = old
	f.New = newFocus
	c.Derivation = model.DerivationPrimaryApplied
	c.Phase = model.PhaseFocus
	return nil
}

// primaryApplied recomputes the focus after the primary change only. After
// derivation, Focus.New also carries the secondary modifications.
func primaryApplied(f *model.Focus) (*ir.Object, error) {
	if f.Primary == nil {
		return f.New.Clone(), nil
	}
	return ir.Apply(f.Old, f.Primary)
}
