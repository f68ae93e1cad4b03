package ir

import (
	"fmt"
	"strings"
)

// Mapping transforms. Parameterized transforms carry their argument after
// the colon, as in "prefix:ext-".
const (
	TransformLower  = "lower"
	TransformUpper  = "upper"
	TransformPrefix = "prefix:"
	TransformSuffix = "suffix:"
)

// ValidateTransform checks a transform expression. The empty transform is
// the identity.
func ValidateTransform(t string) error {
	switch {
	case t == "", t == TransformLower, t == TransformUpper:
		return nil
	case strings.HasPrefix(t, TransformPrefix), strings.HasPrefix(t, TransformSuffix):
		return nil
	}
	return fmt.Errorf("unknown transform %q", t)
}

// ApplyTransform applies the mapping's transform to v. Strings are
// transformed directly and arrays element by element; any other value is an
// error unless the transform is the identity.
func (m Mapping) ApplyTransform(v IRValue) (IRValue, error) {
	if m.Transform == "" {
		return CloneValue(v), nil
	}
	switch val := v.(type) {
	case IRString:
		return IRString(transformString(m.Transform, string(val))), nil
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			s, ok := elem.(IRString)
			if !ok {
				return nil, fmt.Errorf("transform %q on %s: element %d is not a string", m.Transform, m.Target, i)
			}
			out[i] = IRString(transformString(m.Transform, string(s)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("transform %q on %s: value %T is not a string", m.Transform, m.Target, v)
	}
}

func transformString(t, s string) string {
	switch {
	case t == TransformLower:
		return strings.ToLower(s)
	case t == TransformUpper:
		return strings.ToUpper(s)
	case strings.HasPrefix(t, TransformPrefix):
		return strings.TrimPrefix(t, TransformPrefix) + s
	case strings.HasPrefix(t, TransformSuffix):
		return s + strings.TrimPrefix(t, TransformSuffix)
	}
	return s
}
