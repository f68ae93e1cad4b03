package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyTransform(t *testing.T) {
	tests := []struct {
		transform string
		in        IRValue
		want      IRValue
	}{
		{"", IRInt(7), IRInt(7)},
		{"lower", IRString("JDoe"), IRString("jdoe")},
		{"upper", IRString("jdoe"), IRString("JDOE")},
		{"prefix:ext-", IRString("jdoe"), IRString("ext-jdoe")},
		{"suffix:@example.com", IRString("jdoe"), IRString("jdoe@example.com")},
		{"lower", IRArray{IRString("A"), IRString("B")}, IRArray{IRString("a"), IRString("b")}},
	}
	for _, tt := range tests {
		t.Run(tt.transform, func(t *testing.T) {
			got, err := Mapping{Target: "x", Transform: tt.transform}.ApplyTransform(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyTransform_NonString(t *testing.T) {
	_, err := Mapping{Target: "x", Transform: "lower"}.ApplyTransform(IRInt(1))
	assert.Error(t, err)

	_, err = Mapping{Target: "x", Transform: "upper"}.ApplyTransform(IRArray{IRString("a"), IRBool(true)})
	assert.Error(t, err)
}

func TestValidateTransform(t *testing.T) {
	for _, ok := range []string{"", "lower", "upper", "prefix:", "suffix:x"} {
		assert.NoError(t, ValidateTransform(ok), ok)
	}
	assert.Error(t, ValidateTransform("reverse"))

	def := ldapDef()
	def.Mappings[0].Transform = "rot13"
	_, err := NewResourceSet(def)
	assert.Error(t, err)
}
