package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

// createTestStore opens a file-backed store removed with the test.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tether.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestShadow builds an account shadow identified by uid.
func createTestShadow(id, resource, uid string) *ir.Object {
	return &ir.Object{Type: ir.TypeShadow, ID: id, Attrs: ir.IRObject{
		ir.AttrResource:    ir.IRString(resource),
		ir.AttrKind:        ir.IRString("account"),
		ir.AttrIntent:      ir.IRString("default"),
		ir.AttrObjectClass: ir.IRString("inetOrgPerson"),
		ir.AttrAttributes:  ir.IRObject{"uid": ir.IRString(uid)},
	}}
}
