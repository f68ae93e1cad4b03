package store

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/queryir"
	"github.com/roach88/tether/internal/repo"
)

func TestAdd_GetRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := createTestShadow("s1", "ldap", "jdoe")
	in.Attrs["dead"] = ir.IRBool(false)
	in.Attrs["groups"] = ir.IRArray{ir.IRString("staff"), ir.IRString("dev")}

	id, err := s.Add(ctx, in, nil)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if id != "s1" {
		t.Errorf("Add() id = %q, want s1", id)
	}

	got, err := s.Get(ctx, ir.TypeShadow, "s1", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if !ir.Equal(got.Attrs, in.Attrs) {
		t.Errorf("Attrs = %v, want %v", got.Attrs, in.Attrs)
	}
}

func TestAdd_GeneratesID(t *testing.T) {
	s := createTestStore(t)

	id, err := s.Add(context.Background(), ir.NewObject(ir.TypeUser, ""), nil)
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if id == "" {
		t.Error("Add() returned empty id")
	}
}

func TestAdd_Errors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, createTestShadow("s1", "ldap", "a"), nil); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if _, err := s.Add(ctx, createTestShadow("s1", "ldap", "a"), nil); !errors.Is(err, repo.ErrAlreadyExists) {
		t.Errorf("duplicate Add() error = %v, want ErrAlreadyExists", err)
	}
	if _, err := s.Add(ctx, ir.NewObject(ir.TypeShadow, "s2"), nil); !errors.Is(err, repo.ErrSchemaInvalid) {
		t.Errorf("invalid Add() error = %v, want ErrSchemaInvalid", err)
	}
	if _, err := s.Add(ctx, ir.NewObject(ir.TypeShadow, "s2"), &repo.WriteOptions{Raw: true}); err != nil {
		t.Errorf("raw Add() failed: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, ir.TypeUser, "missing", nil)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	obj, err := s.Get(ctx, ir.TypeUser, "missing", &repo.GetOptions{AllowNotFound: true})
	if err != nil || obj != nil {
		t.Errorf("Get(AllowNotFound) = %v, %v; want nil, nil", obj, err)
	}

	if _, err := s.GetVersion(ctx, ir.TypeUser, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("GetVersion() error = %v, want ErrNotFound", err)
	}
}

func TestModify_IncrementsVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, createTestShadow("s1", "ldap", "jdoe"), nil); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	mods := []ir.ItemDelta{ir.Replace("attributes.uid", ir.IRString("john"))}
	if err := s.Modify(ctx, ir.TypeShadow, "s1", mods, nil); err != nil {
		t.Fatalf("Modify() failed: %v", err)
	}

	v, err := s.GetVersion(ctx, ir.TypeShadow, "s1")
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}

	got, _ := s.Get(ctx, ir.TypeShadow, "s1", nil)
	if uid := got.String("attributes.uid"); uid != "john" {
		t.Errorf("uid = %q, want john", uid)
	}
}

func TestModify_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, createTestShadow("s1", "ldap", "jdoe"), nil); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	drop := []ir.ItemDelta{ir.Replace(ir.AttrResource)}
	if err := s.Modify(ctx, ir.TypeShadow, "s1", drop, nil); !errors.Is(err, repo.ErrSchemaInvalid) {
		t.Errorf("Modify() error = %v, want ErrSchemaInvalid", err)
	}
	if err := s.Modify(ctx, ir.TypeShadow, "s1", drop, &repo.WriteOptions{Raw: true}); err != nil {
		t.Errorf("raw Modify() failed: %v", err)
	}
	if err := s.Modify(ctx, ir.TypeShadow, "missing", drop, nil); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Modify(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Add(ctx, createTestShadow("s1", "ldap", "jdoe"), nil); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := s.Delete(ctx, ir.TypeShadow, "s1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, ir.TypeShadow, "s1"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSearch_LiveShadows(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	live := createTestShadow("s2", "ldap", "jdoe")
	unset := createTestShadow("s1", "ldap", "jdoe")
	dead := createTestShadow("s3", "ldap", "jdoe")
	dead.Attrs["dead"] = ir.IRBool(true)
	live.Attrs["dead"] = ir.IRBool(false)
	other := createTestShadow("s4", "crm", "jdoe")
	multi := createTestShadow("s5", "ldap", "x")
	multi.Attrs["attributes"] = ir.IRObject{"uid": ir.IRArray{ir.IRString("y"), ir.IRString("jdoe")}}

	for _, obj := range []*ir.Object{live, unset, dead, other, multi} {
		if _, err := s.Add(ctx, obj, nil); err != nil {
			t.Fatalf("Add(%s) failed: %v", obj.ID, err)
		}
	}

	q := queryir.Select{
		From: ir.TypeShadow,
		Filter: queryir.AllOf(
			queryir.Eq(ir.AttrResource, ir.IRString("ldap")),
			queryir.Eq("attributes.uid", ir.IRString("jdoe")),
			queryir.AnyOf(queryir.Eq(ir.AttrDead, ir.IRBool(false)), queryir.Absent{Field: ir.AttrDead}),
		),
	}

	got, err := s.Search(ctx, q, &repo.GetOptions{NoFetch: true})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	var ids []string
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	want := []string{"s1", "s2", "s5"}
	if len(ids) != len(want) {
		t.Fatalf("Search() ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Search() ids = %v, want %v", ids, want)
			break
		}
	}

	// The in-memory evaluator must agree with SQL.
	for _, obj := range []*ir.Object{live, unset, dead, other, multi} {
		if queryir.Matches(q, obj) != slices.Contains(want, obj.ID) {
			t.Errorf("Matches(%s) disagrees with SQL", obj.ID)
		}
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	s := createTestStore(t)

	got, err := s.Search(context.Background(), queryir.Select{From: ir.TypeUser}, nil)
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Search() = %v, want empty non-nil slice", got)
	}
}

func TestStore_ImplementsRepository(t *testing.T) {
	var _ repo.Repository = createTestStore(t)
}
