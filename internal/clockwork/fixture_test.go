package clockwork

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/cache"
	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/constraint"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/reconcile"
	"github.com/roach88/tether/internal/repo"
)

const (
	ldapKey = "ldap/account/default"
	mailKey = "mail/account/default"
	adKey   = "ad/account/default"
)

func ldapDef() ir.ResourceDefinition {
	return ir.ResourceDefinition{
		Resource: "ldap", Kind: "account", Intent: "default",
		ObjectClass: ir.ObjectClassDef{Name: "inetOrgPerson", PrimaryIdentifiers: []string{"uid"}},
		Required:    true,
		Mappings: []ir.Mapping{
			{Target: "uid", Source: "focus.name", Transform: "lower"},
			{Target: "cn", Source: "focus.full_name"},
		},
		Reaction: ir.ReactionUnlink,
	}
}

func mailDef() ir.ResourceDefinition {
	return ir.ResourceDefinition{
		Resource: "mail", Kind: "account", Intent: "default",
		ObjectClass: ir.ObjectClassDef{Name: "mailbox", PrimaryIdentifiers: []string{"address"}},
		Mappings: []ir.Mapping{
			{Target: "address", Source: "focus.name", Transform: "suffix:@example.com"},
			{Target: "owner_dn", Source: "projection." + ldapKey + ".$external_id", Transform: "prefix:uid="},
		},
		DependsOn: []string{ldapKey},
	}
}

func adDef() ir.ResourceDefinition {
	return ir.ResourceDefinition{
		Resource: "ad", Kind: "account", Intent: "default",
		ObjectClass: ir.ObjectClassDef{Name: "user", PrimaryIdentifiers: []string{"sAMAccountName"}},
		Mappings: []ir.Mapping{
			{Target: "sAMAccountName", Source: "focus.name", Transform: "upper"},
			{Target: "mirror", Source: "projection." + ldapKey + ".cn"},
		},
	}
}

type fixture struct {
	mem   *repo.Memory
	scope *cache.Scope
	repo  repo.Repository
	dir   *connector.Memory
	conn  *connector.Faulty
	rs    *ir.ResourceSet
	cw    *Clockwork
}

func newFixture(t *testing.T, defs []ir.ResourceDefinition, opts ...Option) *fixture {
	t.Helper()
	return newWrappedFixture(t, defs, nil, opts...)
}

// newWrappedFixture is newFixture with the clockwork's repository passed
// through wrap, so tests can make individual writes fail.
func newWrappedFixture(t *testing.T, defs []ir.ResourceDefinition, wrap func(repo.Repository) repo.Repository, opts ...Option) *fixture {
	t.Helper()
	rs, err := ir.NewResourceSet(defs...)
	require.NoError(t, err)

	f := &fixture{mem: repo.NewMemory(), scope: cache.Begin(), dir: connector.NewMemory(), rs: rs}
	t.Cleanup(f.scope.End)
	f.repo = cache.NewRepository(f.mem, f.scope)
	if wrap != nil {
		f.repo = wrap(f.repo)
	}
	f.conn = connector.NewFaulty(f.dir)

	session := constraint.NewSession()
	session.Observe(f.scope, rs)
	checker := constraint.New(f.repo, session)
	comp := discovery.New(f.repo, f.conn, reconcile.New(f.repo, f.conn, rs))
	f.cw = New(f.repo, f.conn, checker, comp, rs, opts...)
	return f
}

func (f *fixture) defs(t *testing.T, key string) ir.ResourceDefinition {
	t.Helper()
	def, ok := f.rs.Get(key)
	require.True(t, ok, key)
	return def
}

// user stores a focus directly.
func (f *fixture) user(t *testing.T, id string, attrs ir.IRObject) {
	t.Helper()
	_, err := f.mem.Add(context.Background(), &ir.Object{Type: ir.TypeUser, ID: id, Attrs: attrs}, nil)
	require.NoError(t, err)
}

// provision creates an external object through the directory and its live
// shadow, owned by owner. It returns the shadow.
func (f *fixture) provision(t *testing.T, key, owner string, attrs ir.IRObject) *ir.Object {
	t.Helper()
	def := f.defs(t, key)
	res, err := f.dir.Apply(context.Background(), def.Resource, ir.NewAddDelta(&ir.Object{Type: def.ObjectClass.Name, Attrs: attrs}))
	require.NoError(t, err)
	shadow := ir.NewShadow(def, res.ExternalID, owner, res.Attributes)
	_, err = f.mem.Add(context.Background(), shadow, nil)
	require.NoError(t, err)
	return shadow
}

func (f *fixture) get(t *testing.T, typ, id string) *ir.Object {
	t.Helper()
	obj, err := f.mem.Get(context.Background(), typ, id, &repo.GetOptions{AllowNotFound: true})
	require.NoError(t, err)
	return obj
}

// run drives c to FINAL or suspension and checks the context invariants.
func (f *fixture) run(t *testing.T, c *model.Context) Progress {
	t.Helper()
	progress, err := f.cw.Run(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	return progress
}

func assignments(keys ...string) ir.IRArray {
	out := make(ir.IRArray, len(keys))
	for i, k := range keys {
		out[i] = ir.IRString(k)
	}
	return out
}

func links(ids ...string) ir.IRArray {
	out := make(ir.IRArray, len(ids))
	for i, id := range ids {
		out[i] = ir.IRString(id)
	}
	return out
}

func newUser(id string, attrs ir.IRObject) *model.Context {
	return model.New("ctx-"+id, ir.TypeUser, id, ir.NewAddDelta(&ir.Object{Type: ir.TypeUser, ID: id, Attrs: attrs}))
}

func modifyUser(id string, mods ...ir.ItemDelta) *model.Context {
	return model.New("ctx-"+id, ir.TypeUser, id, ir.NewModifyDelta(ir.TypeUser, id, mods...))
}

var errDiskFull = errors.New("disk full")

// failingShadows fails the selected shadow writes with errDiskFull.
type failingShadows struct {
	repo.Repository
	add, delete, markDead bool
}

func (r failingShadows) Add(ctx context.Context, obj *ir.Object, opts *repo.WriteOptions) (string, error) {
	if r.add && obj.Type == ir.TypeShadow {
		return "", errDiskFull
	}
	return r.Repository.Add(ctx, obj, opts)
}

func (r failingShadows) Delete(ctx context.Context, typ, id string) error {
	if r.delete && typ == ir.TypeShadow {
		return errDiskFull
	}
	return r.Repository.Delete(ctx, typ, id)
}

func (r failingShadows) Modify(ctx context.Context, typ, id string, mods []ir.ItemDelta, opts *repo.WriteOptions) error {
	if r.markDead && typ == ir.TypeShadow && opts != nil && opts.Raw {
		return errDiskFull
	}
	return r.Repository.Modify(ctx, typ, id, mods, opts)
}
