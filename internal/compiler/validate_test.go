package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func validDef() ir.ResourceDefinition {
	return ir.ResourceDefinition{
		Resource: "ldap",
		Kind:     "account",
		Intent:   "default",
		ObjectClass: ir.ObjectClassDef{
			Name:                 "inetOrgPerson",
			PrimaryIdentifiers:   []string{"uid"},
			SecondaryIdentifiers: []string{"mail"},
		},
		Mappings: []ir.Mapping{
			{Target: "uid", Source: "focus.name", Transform: ir.TransformLower},
			{Target: "mail", Source: "focus.name", Transform: "suffix:@example.com"},
			{Target: "o", Literal: ir.IRString("example")},
		},
		DependsOn: []string{"hr/account/default"},
		Reaction:  ir.ReactionRecreate,
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateResourceValid(t *testing.T) {
	d := validDef()
	assert.Empty(t, Validate(d), "valid definition should have no errors")
	assert.Empty(t, Validate(&d), "pointer form should validate the same")
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("not a definition")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidateResource(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.ResourceDefinition)
		want   []string
	}{
		{
			name:   "empty object class",
			mutate: func(d *ir.ResourceDefinition) { d.ObjectClass.Name = "" },
			want:   []string{ErrObjectClassEmpty},
		},
		{
			name:   "bad intent",
			mutate: func(d *ir.ResourceDefinition) { d.Intent = "with space" },
			want:   []string{ErrInvalidDiscriminator},
		},
		{
			name:   "unknown reaction",
			mutate: func(d *ir.ResourceDefinition) { d.Reaction = "ignore" },
			want:   []string{ErrInvalidReaction},
		},
		{
			name: "duplicate identifier",
			mutate: func(d *ir.ResourceDefinition) {
				d.ObjectClass.SecondaryIdentifiers = []string{"uid"}
			},
			want: []string{ErrDuplicateName},
		},
		{
			name:   "identifier without mapping",
			mutate: func(d *ir.ResourceDefinition) { d.ObjectClass.SecondaryIdentifiers = []string{"cn"} },
			want:   []string{ErrIdentifierNotMapped},
		},
		{
			name:   "malformed reference",
			mutate: func(d *ir.ResourceDefinition) { d.Implies = []string{"mail"} },
			want:   []string{ErrInvalidReference},
		},
		{
			name:   "self reference",
			mutate: func(d *ir.ResourceDefinition) { d.DependsOn = []string{"ldap/account/default"} },
			want:   []string{ErrSelfReference},
		},
		{
			name: "duplicate reference",
			mutate: func(d *ir.ResourceDefinition) {
				d.DependsOn = []string{"hr/account/default", "hr/account/default"}
			},
			want: []string{ErrDuplicateName},
		},
		{
			name: "mapping without target",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings = append(d.Mappings, ir.Mapping{Source: "focus.name"})
			},
			want: []string{ErrMappingNoTarget},
		},
		{
			name: "external id as target",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings = append(d.Mappings, ir.Mapping{Target: ir.ExternalIDRef, Source: "focus.name"})
			},
			want: []string{ErrExternalIDTarget},
		},
		{
			name: "unknown transform",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings[0].Transform = "title"
			},
			want: []string{ErrInvalidTransform},
		},
		{
			name: "neither source nor literal",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings = append(d.Mappings, ir.Mapping{Target: "cn"})
			},
			want: []string{ErrMappingNoValue},
		},
		{
			name: "source and literal",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings[2].Source = "focus.org"
			},
			want: []string{ErrMappingNoValue},
		},
		{
			name: "unsupported source",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings = append(d.Mappings, ir.Mapping{Target: "cn", Source: "env.USER"})
			},
			want: []string{ErrUnsupportedSource},
		},
		{
			name: "projection source with malformed key",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings = append(d.Mappings, ir.Mapping{Target: "cn", Source: "projection.ad.cn"})
			},
			want: []string{ErrUnsupportedSource},
		},
		{
			name: "null literal",
			mutate: func(d *ir.ResourceDefinition) {
				d.Mappings[2].Literal = ir.IRArray{ir.IRString("a"), ir.IRNull{}}
			},
			want: []string{ErrInvalidLiteral},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDef()
			tt.mutate(&d)
			assert.Equal(t, tt.want, codes(Validate(d)))
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	d := validDef()
	d.ObjectClass.Name = ""
	d.Reaction = "ignore"
	d.Mappings = append(d.Mappings, ir.Mapping{Target: "cn"})

	errs := Validate(d)
	assert.Equal(t, []string{ErrObjectClassEmpty, ErrInvalidReaction, ErrMappingNoValue}, codes(errs))
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "ldap/account/default.objectClass", Message: "object class is required", Code: ErrObjectClassEmpty}
	assert.Equal(t, "[E101] ldap/account/default.objectClass: object class is required", err.Error())

	err.Line = 7
	assert.Equal(t, "[E101] line 7: ldap/account/default.objectClass: object class is required", err.Error())
}
