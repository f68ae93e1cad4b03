// Package constraint verifies that a projection's identifying attributes do
// not collide with another live shadow on the same resource.
package constraint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/repo"
)

// Candidate is the projection about to be created or changed.
type Candidate struct {
	Resource string
	// KnownID is the candidate's own shadow id, empty before creation. A
	// single match with this id is the candidate itself.
	KnownID     string
	ObjectClass string
	Attributes  ir.IRObject
}

// CheckResult reports the outcome of one Check.
type CheckResult struct {
	Satisfies        bool
	Conflicting      *ir.Object
	Checked          []string
	ConflictingAttrs []string
}

// Confirmer may override a single-match conflict, for example when the
// matching shadow is known to be stale. Returning true accepts the
// candidate as unique.
type Confirmer func(ctx context.Context, cand Candidate, attr string, existing *ir.Object) (bool, error)

// Checker runs uniqueness checks against the authoritative store.
type Checker struct {
	repo      repo.Repository
	session   *Session
	confirmer Confirmer
	logger    *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithConfirmer installs a conflict override.
func WithConfirmer(fn Confirmer) Option {
	return func(c *Checker) {
		c.confirmer = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// New creates a checker. A nil session gets a private one.
func New(r repo.Repository, session *Session, opts ...Option) *Checker {
	if session == nil {
		session = NewSession()
	}
	c := &Checker{repo: r, session: session, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the fact cache in use.
func (c *Checker) Session() *Session {
	return c.session
}

// Check verifies every primary and secondary identifier of class that the
// candidate carries. Attributes absent from the candidate are not checked.
func (c *Checker) Check(ctx context.Context, class ir.ObjectClassDef, cand Candidate) (*CheckResult, error) {
	if cand.ObjectClass == "" {
		cand.ObjectClass = class.Name
	}
	result := &CheckResult{Satisfies: true, Checked: []string{}, ConflictingAttrs: []string{}}

	seen := map[string]bool{}
	for _, attr := range class.Identifiers() {
		if seen[attr] {
			continue
		}
		seen[attr] = true

		values := ir.Values(cand.Attributes[attr])
		if len(values) == 0 {
			continue
		}
		result.Checked = append(result.Checked, attr)

		key, err := factKey(cand, attr, values)
		if err != nil {
			return nil, err
		}
		if c.session.known(key) {
			continue
		}

		unique, conflicting, err := c.checkAttr(ctx, cand, attr, values)
		if err != nil {
			return nil, err
		}
		if !unique {
			result.Satisfies = false
			result.ConflictingAttrs = append(result.ConflictingAttrs, attr)
			if result.Conflicting == nil {
				result.Conflicting = conflicting
			}
			c.logger.Debug("uniqueness conflict",
				"resource", cand.Resource,
				"attribute", attr,
				"conflicting", conflicting.ID)
			continue
		}
		c.session.record(key)
	}
	return result, nil
}

func (c *Checker) checkAttr(ctx context.Context, cand Candidate, attr string, values ir.IRArray) (bool, *ir.Object, error) {
	for _, v := range values {
		matches, err := c.repo.Search(ctx, liveShadowQuery(cand, attr, v), &repo.GetOptions{NoFetch: true})
		if err != nil {
			return false, nil, fmt.Errorf("check %s on %s: %w", attr, cand.Resource, err)
		}

		switch {
		case len(matches) == 0:
			continue
		case len(matches) > 1:
			return false, matches[0], nil
		case cand.KnownID != "" && matches[0].ID == cand.KnownID:
			continue
		}

		if c.confirmer == nil {
			return false, matches[0], nil
		}
		ok, err := c.confirmer(ctx, cand, attr, matches[0])
		if err != nil {
			return false, nil, fmt.Errorf("confirm %s on %s: %w", attr, cand.Resource, err)
		}
		if !ok {
			return false, matches[0], nil
		}
	}
	return true, nil, nil
}

// liveShadowQuery matches shadows of the candidate's resource and class
// whose attribute equals v and that are not dead. Older shadows may lack
// the dead marker entirely.
func liveShadowQuery(cand Candidate, attr string, v ir.IRValue) queryir.Select {
	return queryir.Select{
		From: ir.TypeShadow,
		Filter: queryir.AllOf(
			queryir.Eq(ir.AttrResource, ir.IRString(cand.Resource)),
			queryir.Eq(ir.AttrObjectClass, ir.IRString(cand.ObjectClass)),
			queryir.Eq(ir.AttrAttributes+"."+attr, v),
			queryir.AnyOf(
				queryir.Eq(ir.AttrDead, ir.IRBool(false)),
				queryir.Absent{Field: ir.AttrDead},
			),
		),
	}
}

func factKey(cand Candidate, attr string, values ir.IRArray) (string, error) {
	b, err := ir.MarshalCanonical(ir.IRObject{
		"resource":     ir.IRString(cand.Resource),
		"known_id":     ir.IRString(cand.KnownID),
		"object_class": ir.IRString(cand.ObjectClass),
		"attribute":    ir.IRString(attr),
		"values":       values,
	})
	if err != nil {
		return "", fmt.Errorf("uniqueness fact for %s: %w", attr, err)
	}
	return string(b), nil
}
