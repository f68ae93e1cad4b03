package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func liveShadows(resource, attr string, value ir.IRValue) Select {
	return Select{
		From: ir.TypeShadow,
		Filter: AllOf(
			Eq(ir.AttrResource, ir.IRString(resource)),
			Eq("attributes."+attr, value),
			AnyOf(Eq(ir.AttrDead, ir.IRBool(false)), Absent{Field: ir.AttrDead}),
		),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"nil query", nil, true},
		{"no type", Select{}, true},
		{"no filter", Select{From: "user"}, false},
		{"pointer select", &Select{From: "user"}, false},
		{"nil pointer", (*Select)(nil), true},
		{"shadow search", liveShadows("ldap", "uid", ir.IRString("jdoe")), false},
		{"null value", Select{From: "user", Filter: Eq("name", ir.IRNull{})}, true},
		{"array value", Select{From: "user", Filter: Eq("name", ir.IRArray{})}, true},
		{"empty field", Select{From: "user", Filter: Absent{}}, true},
		{"nested bad", Select{From: "user", Filter: AllOf(AnyOf(Eq("", ir.IRInt(1))))}, true},
		{"empty and", Select{From: "user", Filter: And{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonical_StableAcrossForms(t *testing.T) {
	a, err := Canonical(liveShadows("ldap", "uid", ir.IRString("jdoe")))
	require.NoError(t, err)

	q := liveShadows("ldap", "uid", ir.IRString("jdoe"))
	b, err := Canonical(&q)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ptr := Select{From: ir.TypeShadow, Filter: &And{Predicates: []Predicate{
		&Equals{Field: ir.AttrResource, Value: ir.IRString("ldap")},
		&Equals{Field: "attributes.uid", Value: ir.IRString("jdoe")},
		&Or{Predicates: []Predicate{
			&Equals{Field: ir.AttrDead, Value: ir.IRBool(false)},
			&Absent{Field: ir.AttrDead},
		}},
	}}}
	c, err := Canonical(ptr)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestCanonical_Format(t *testing.T) {
	got, err := Canonical(Select{From: "user", Filter: Eq("name", ir.IRString("alice"))})
	require.NoError(t, err)
	assert.Equal(t, `{"filter":{"field":"name","op":"eq","value":"alice"},"from":"user"}`, string(got))

	got, err = Canonical(Select{From: "user"})
	require.NoError(t, err)
	assert.Equal(t, `{"from":"user"}`, string(got))
}

func TestFingerprint_DistinguishesQueries(t *testing.T) {
	a, err := Fingerprint(liveShadows("ldap", "uid", ir.IRString("jdoe")))
	require.NoError(t, err)
	b, err := Fingerprint(liveShadows("ldap", "uid", ir.IRString("jdoe2")))
	require.NoError(t, err)
	c, err := Fingerprint(liveShadows("ldap", "uid", ir.IRString("jdoe")))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 64)

	_, err = Fingerprint(Select{})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMatches(t *testing.T) {
	live := &ir.Object{Type: ir.TypeShadow, ID: "s1", Version: 2, Attrs: ir.IRObject{
		"resource":   ir.IRString("ldap"),
		"attributes": ir.IRObject{"uid": ir.IRString("jdoe"), "mail": ir.IRArray{ir.IRString("a@x"), ir.IRString("b@x")}},
	}}
	dead := live.Clone()
	dead.Attrs["dead"] = ir.IRBool(true)
	other := live.Clone()
	other.Type = ir.TypeUser

	q := liveShadows("ldap", "uid", ir.IRString("jdoe"))
	assert.True(t, Matches(q, live))
	assert.False(t, Matches(q, dead))
	assert.False(t, Matches(q, other))
	assert.False(t, Matches(q, nil))

	assert.True(t, Matches(liveShadows("ldap", "mail", ir.IRString("b@x")), live), "multi-valued contains")
	assert.False(t, Matches(liveShadows("ldap", "mail", ir.IRString("c@x")), live))
	assert.True(t, Matches(Select{From: ir.TypeShadow, Filter: Eq(FieldID, ir.IRString("s1"))}, live))
	assert.True(t, Matches(Select{From: ir.TypeShadow, Filter: Eq(FieldVersion, ir.IRInt(2))}, live))
	assert.False(t, Matches(Select{From: ir.TypeShadow, Filter: Or{}}, live), "empty or matches nothing")
	assert.True(t, Matches(Select{From: ir.TypeShadow, Filter: And{}}, live), "empty and matches all")
	assert.True(t, Matches(Select{From: ir.TypeShadow, Filter: Absent{Field: "attributes.cn"}}, live))
}
