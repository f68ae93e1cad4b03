package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ldapDef() ResourceDefinition {
	return ResourceDefinition{
		Resource: "ldap", Kind: "account", Intent: "default",
		ObjectClass: ObjectClassDef{Name: "inetOrgPerson", PrimaryIdentifiers: []string{"uid"}, SecondaryIdentifiers: []string{"mail"}},
		Mappings:    []Mapping{{Target: "uid", Source: "focus.name"}},
	}
}

func TestNewResourceSet(t *testing.T) {
	mail := ResourceDefinition{Resource: "mail", Kind: "account", Intent: "default", ObjectClass: ObjectClassDef{Name: "mailbox"}}
	ldap := ldapDef()
	ldap.Implies = []string{mail.Key()}

	rs, err := NewResourceSet(ldap, mail)
	require.NoError(t, err)
	assert.Equal(t, []string{"ldap/account/default", "mail/account/default"}, rs.Keys())

	got, ok := rs.Get("ldap/account/default")
	require.True(t, ok)
	assert.True(t, got.ObjectClass.IsIdentifier("mail"))
	assert.False(t, got.ObjectClass.IsIdentifier("cn"))
}

func TestNewResourceSetRejects(t *testing.T) {
	dangling := ldapDef()
	dangling.DependsOn = []string{"nope/account/default"}
	_, err := NewResourceSet(dangling)
	assert.Error(t, err)

	_, err = NewResourceSet(ldapDef(), ldapDef())
	assert.Error(t, err)

	badReaction := ldapDef()
	badReaction.Reaction = "explode"
	_, err = NewResourceSet(badReaction)
	assert.Error(t, err)

	badSource := ldapDef()
	badSource.Mappings = []Mapping{{Target: "uid", Source: "env.USER"}}
	_, err = NewResourceSet(badSource)
	assert.Error(t, err)
}

func TestMappingSources(t *testing.T) {
	key, attr, ok := Mapping{Source: "projection.ldap/account/default.$external_id"}.ProjectionSource()
	require.True(t, ok)
	assert.Equal(t, "ldap/account/default", key)
	assert.Equal(t, ExternalIDRef, attr)

	path, ok := Mapping{Source: "focus.name"}.FocusSource()
	require.True(t, ok)
	assert.Equal(t, "name", path)

	_, _, ok = Mapping{Source: "focus.name"}.ProjectionSource()
	assert.False(t, ok)
}

func TestNewShadow(t *testing.T) {
	def := ResourceDefinition{Resource: "ldap", Kind: "account", Intent: "default", ObjectClass: ObjectClassDef{Name: "inetOrgPerson"}}
	attrs := IRObject{"uid": IRString("jdoe")}

	s := NewShadow(def, "R1", "u1", attrs)
	assert.Equal(t, ShadowID("ldap", "account", "default", "R1"), s.ID)
	assert.Equal(t, TypeShadow, s.Type)
	assert.Equal(t, "inetOrgPerson", s.String(AttrObjectClass))
	assert.Equal(t, "u1", s.String(AttrOwner))
	assert.False(t, s.Bool(AttrDead))

	attrs["uid"] = IRString("changed")
	assert.Equal(t, "jdoe", s.String("attributes.uid"))

	orphan := NewShadow(def, "R2", "", nil)
	_, ok := orphan.Get(AttrOwner)
	assert.False(t, ok)
	assert.Equal(t, IRObject{}, orphan.Attrs[AttrAttributes])
}
