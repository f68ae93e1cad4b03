package cache

import (
	"context"

	"github.com/cespare/xxhash"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/repo"
)

// Repository is a repo.Repository that reads through a Scope.
type Repository struct {
	inner repo.Repository
	scope *Scope
}

var _ repo.Repository = (*Repository)(nil)

// NewRepository wraps inner. A nil scope means the scope is taken from each
// call's context; with no scope at all every call passes through.
func NewRepository(inner repo.Repository, scope *Scope) *Repository {
	return &Repository{inner: inner, scope: scope}
}

// Inner returns the wrapped repository.
func (r *Repository) Inner() repo.Repository {
	return r.inner
}

func (r *Repository) scopeFor(ctx context.Context) *Scope {
	if r.scope != nil {
		return r.scope
	}
	return FromContext(ctx)
}

// harmless reports whether opts leave the result shape unchanged, so a
// cached copy may answer the read.
func harmless(opts *repo.GetOptions) bool {
	return opts == nil || (!opts.NoFetch && !opts.Raw)
}

// Get implements repo.Repository.
func (r *Repository) Get(ctx context.Context, typ, id string, opts *repo.GetOptions) (*ir.Object, error) {
	s := r.scopeFor(ctx)
	if !s.Active() || !s.Cacheable(typ) || !harmless(opts) {
		recordPassThrough(typ)
		return r.inner.Get(ctx, typ, id, opts)
	}

	if obj, ok := s.getObject(objectKey{typ: typ, id: id}); ok {
		recordHit(typ, kindObject)
		return obj, nil
	}
	recordMiss(typ, kindObject)

	obj, err := r.inner.Get(ctx, typ, id, opts)
	if err != nil || obj == nil {
		return obj, err
	}
	s.putObject(obj)
	return obj, nil
}

// GetVersion implements repo.Repository.
func (r *Repository) GetVersion(ctx context.Context, typ, id string) (int64, error) {
	s := r.scopeFor(ctx)
	if !s.Active() || !s.Cacheable(typ) {
		recordPassThrough(typ)
		return r.inner.GetVersion(ctx, typ, id)
	}

	k := objectKey{typ: typ, id: id}
	if v, ok := s.getVersion(k); ok {
		recordHit(typ, kindVersion)
		return v, nil
	}
	recordMiss(typ, kindVersion)

	v, err := r.inner.GetVersion(ctx, typ, id)
	if err != nil {
		return 0, err
	}
	s.putVersion(k, v)
	return v, nil
}

// Search implements repo.Repository. Only searches without options are
// cached.
func (r *Repository) Search(ctx context.Context, q queryir.Select, opts *repo.GetOptions) ([]*ir.Object, error) {
	s := r.scopeFor(ctx)
	if !s.Active() || !s.Cacheable(q.From) || !opts.IsZero() {
		recordPassThrough(q.From)
		return r.inner.Search(ctx, q, opts)
	}

	canonical, err := queryir.Canonical(q)
	if err != nil {
		// Let the inner repository report the invalid query.
		return r.inner.Search(ctx, q, opts)
	}
	k := queryKey{typ: q.From, fp: xxhash.Sum64(canonical)}

	if results, ok := s.getQuery(k, string(canonical)); ok {
		recordHit(q.From, kindQuery)
		return results, nil
	}
	recordMiss(q.From, kindQuery)

	results, err := r.inner.Search(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	s.putQuery(k, string(canonical), results)
	return results, nil
}

// Add implements repo.Repository.
func (r *Repository) Add(ctx context.Context, obj *ir.Object, opts *repo.WriteOptions) (string, error) {
	id, err := r.inner.Add(ctx, obj, opts)
	if err != nil {
		return "", err
	}
	added := obj.Clone()
	added.ID = id
	r.invalidate(ctx, WriteEvent{Op: WriteAdd, Type: obj.Type, ID: id, Object: added})
	return id, nil
}

// Modify implements repo.Repository.
func (r *Repository) Modify(ctx context.Context, typ, id string, mods []ir.ItemDelta, opts *repo.WriteOptions) error {
	if err := r.inner.Modify(ctx, typ, id, mods, opts); err != nil {
		return err
	}
	r.invalidate(ctx, WriteEvent{Op: WriteModify, Type: typ, ID: id, Modifications: ir.CloneItems(mods)})
	return nil
}

// Delete implements repo.Repository.
func (r *Repository) Delete(ctx context.Context, typ, id string) error {
	if err := r.inner.Delete(ctx, typ, id); err != nil {
		return err
	}
	r.invalidate(ctx, WriteEvent{Op: WriteDelete, Type: typ, ID: id})
	return nil
}

func (r *Repository) invalidate(ctx context.Context, ev WriteEvent) {
	s := r.scopeFor(ctx)
	if s == nil {
		return
	}
	if n := s.invalidate(ev); n > 0 {
		recordInvalidations(ev.Type, n)
	}
}
