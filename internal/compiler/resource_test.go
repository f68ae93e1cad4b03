package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func compileResource(t *testing.T, src, path string) (*ir.ResourceDefinition, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileResource(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileResourceBasic(t *testing.T) {
	def, err := compileResource(t, `
		resource: ldap: {
			objectClass: "inetOrgPerson"
			required:    true
			identifiers: {
				primary:   ["uid"]
				secondary: ["mail"]
			}
			mappings: [
				{target: "uid", source: "focus.name", transform: "lower"},
				{target: "mail", source: "focus.name", transform: "suffix:@example.com"},
				{target: "o", literal: "example"},
			]
			reaction: "recreate"
		}
	`, "resource.ldap")
	require.NoError(t, err)

	assert.Equal(t, "ldap", def.Resource)
	assert.Equal(t, DefaultKind, def.Kind)
	assert.Equal(t, DefaultIntent, def.Intent)
	assert.Equal(t, "ldap/account/default", def.Key())
	assert.Equal(t, "inetOrgPerson", def.ObjectClass.Name)
	assert.True(t, def.Required)
	assert.Equal(t, []string{"uid"}, def.ObjectClass.PrimaryIdentifiers)
	assert.Equal(t, []string{"mail"}, def.ObjectClass.SecondaryIdentifiers)
	assert.Equal(t, ir.ReactionRecreate, def.Reaction)

	require.Len(t, def.Mappings, 3)
	assert.Equal(t, ir.Mapping{Target: "uid", Source: "focus.name", Transform: "lower"}, def.Mappings[0])
	assert.Equal(t, "suffix:@example.com", def.Mappings[1].Transform)
	assert.Equal(t, ir.IRString("example"), def.Mappings[2].Literal)
	assert.Empty(t, Validate(def))
}

func TestCompileResourceOverridesLabel(t *testing.T) {
	def, err := compileResource(t, `
		resource: "ldap-admin": {
			resource:    "ldap"
			kind:        "account"
			intent:      "admin"
			objectClass: "inetOrgPerson"
			dependsOn: ["ldap/account/default"]
			implies: ["mail/account/default"]
			mappings: [{target: "owner", source: "projection.ldap/account/default.$external_id"}]
		}
	`, `resource."ldap-admin"`)
	require.NoError(t, err)

	assert.Equal(t, "ldap/account/admin", def.Key())
	assert.Equal(t, []string{"ldap/account/default"}, def.DependsOn)
	assert.Equal(t, []string{"mail/account/default"}, def.Implies)

	key, attr, ok := def.Mappings[0].ProjectionSource()
	require.True(t, ok)
	assert.Equal(t, "ldap/account/default", key)
	assert.Equal(t, ir.ExternalIDRef, attr)
}

func TestCompileResourceStructuredLiteral(t *testing.T) {
	def, err := compileResource(t, `
		resource: mail: {
			objectClass: "mailbox"
			mappings: [
				{target: "quota", literal: 512},
				{target: "flags", literal: ["archive", true]},
				{target: "settings", literal: {lang: "en", size: 3}},
			]
		}
	`, "resource.mail")
	require.NoError(t, err)

	require.Len(t, def.Mappings, 3)
	assert.Equal(t, ir.IRInt(512), def.Mappings[0].Literal)
	assert.Equal(t, ir.IRArray{ir.IRString("archive"), ir.IRBool(true)}, def.Mappings[1].Literal)
	assert.Equal(t, ir.IRObject{"lang": ir.IRString("en"), "size": ir.IRInt(3)}, def.Mappings[2].Literal)
}

func TestCompileResourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		path    string
		wantMsg string
	}{
		{
			name:    "missing object class",
			src:     `resource: ldap: { required: true }`,
			path:    "resource.ldap",
			wantMsg: "objectClass is required",
		},
		{
			name:    "mapping without target",
			src:     `resource: ldap: { objectClass: "x", mappings: [{source: "focus.name"}] }`,
			path:    "resource.ldap",
			wantMsg: "mappings[0].target: target is required",
		},
		{
			name:    "mapping without value",
			src:     `resource: ldap: { objectClass: "x", mappings: [{target: "uid"}] }`,
			path:    "resource.ldap",
			wantMsg: "source or literal is required",
		},
		{
			name:    "source and literal",
			src:     `resource: ldap: { objectClass: "x", mappings: [{target: "uid", source: "focus.name", literal: "u"}] }`,
			path:    "resource.ldap",
			wantMsg: "mutually exclusive",
		},
		{
			name:    "float literal",
			src:     `resource: ldap: { objectClass: "x", mappings: [{target: "ratio", literal: 1.5}] }`,
			path:    "resource.ldap",
			wantMsg: "float values are forbidden",
		},
		{
			name:    "required is not a bool",
			src:     `resource: ldap: { objectClass: "x", required: "yes" }`,
			path:    "resource.ldap",
			wantMsg: "",
		},
		{
			name:    "identifiers not a list",
			src:     `resource: ldap: { objectClass: "x", identifiers: primary: "uid" }`,
			path:    "resource.ldap",
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileResource(t, tt.src, tt.path)
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "objectClass", Message: "objectClass is required"}
	assert.Equal(t, "objectClass: objectClass is required", err.Error())
}
