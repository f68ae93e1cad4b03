package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/tether/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// ResourceDefinition errors (E101-E119)
	ErrObjectClassEmpty       = "E101" // object class is required
	ErrInvalidDiscriminator   = "E102" // resource, kind or intent malformed
	ErrMappingNoTarget        = "E103" // mapping target is required
	ErrInvalidTransform       = "E104" // unknown transform
	ErrDuplicateName          = "E105" // duplicate identifier or reference
	ErrInvalidLiteral         = "E106" // null or float literal
	ErrUnsupportedSource      = "E107" // source is not focus.* or projection.*.*
	ErrIdentifierNotMapped    = "E108" // identifier attribute has no mapping
	ErrInvalidReaction        = "E109" // reaction is not recreate or unlink
	ErrInvalidReference       = "E110" // implies or dependsOn entry is not a key
	ErrSelfReference          = "E111" // definition implies or depends on itself
	ErrExternalIDTarget       = "E112" // $external_id used as a target
	ErrMappingNoValue         = "E113" // mapping needs exactly one of source or literal
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled resource definition against schema rules.
// Returns all errors found (does not fail-fast). Cross-definition checks
// such as undefined references belong to ir.NewResourceSet.
func Validate(v any) []ValidationError {
	switch def := v.(type) {
	case *ir.ResourceDefinition:
		return validateResource(def)
	case ir.ResourceDefinition:
		return validateResource(&def)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

func validateResource(def *ir.ResourceDefinition) []ValidationError {
	var errs []ValidationError
	key := def.Key()

	for _, part := range [][2]string{{"resource", def.Resource}, {"kind", def.Kind}, {"intent", def.Intent}} {
		field, val := part[0], part[1]
		if !namePattern.MatchString(val) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.%s", key, field),
				Message: fmt.Sprintf("%s %q must start with a letter and contain only letters, digits, '_' or '-'", field, val),
				Code:    ErrInvalidDiscriminator,
			})
		}
	}

	if def.ObjectClass.Name == "" {
		errs = append(errs, ValidationError{
			Field:   key + ".objectClass",
			Message: "object class is required",
			Code:    ErrObjectClassEmpty,
		})
	}

	switch def.Reaction {
	case "", ir.ReactionRecreate, ir.ReactionUnlink:
	default:
		errs = append(errs, ValidationError{
			Field:   key + ".reaction",
			Message: fmt.Sprintf("reaction %q must be %q or %q", def.Reaction, ir.ReactionRecreate, ir.ReactionUnlink),
			Code:    ErrInvalidReaction,
		})
	}

	seen := make(map[string]bool)
	for _, id := range def.ObjectClass.Identifiers() {
		if seen[id] {
			errs = append(errs, ValidationError{
				Field:   key + ".identifiers",
				Message: fmt.Sprintf("duplicate identifier %q", id),
				Code:    ErrDuplicateName,
			})
		}
		seen[id] = true
	}

	errs = append(errs, validateReferences(key, "implies", def.Implies)...)
	errs = append(errs, validateReferences(key, "dependsOn", def.DependsOn)...)

	targets := make(map[string]bool)
	for i, m := range def.Mappings {
		errs = append(errs, validateMapping(key, i, m)...)
		targets[m.Target] = true
	}

	for _, id := range def.ObjectClass.Identifiers() {
		if !targets[id] {
			errs = append(errs, ValidationError{
				Field:   key + ".identifiers",
				Message: fmt.Sprintf("identifier %q has no mapping", id),
				Code:    ErrIdentifierNotMapped,
			})
		}
	}

	return errs
}

func validateReferences(key, field string, refs []string) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, ref := range refs {
		path := fmt.Sprintf("%s.%s", key, field)
		if !isValidKey(ref) {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%q is not a resource/kind/intent key", ref),
				Code:    ErrInvalidReference,
			})
			continue
		}
		if ref == key {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: "definition references itself",
				Code:    ErrSelfReference,
			})
		}
		if seen[ref] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate reference %q", ref),
				Code:    ErrDuplicateName,
			})
		}
		seen[ref] = true
	}
	return errs
}

func validateMapping(key string, i int, m ir.Mapping) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("%s.mappings[%d]", key, i)

	switch {
	case m.Target == "":
		errs = append(errs, ValidationError{Field: field, Message: "target is required", Code: ErrMappingNoTarget})
	case m.Target == ir.ExternalIDRef:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s is assigned by the resource and cannot be a target", ir.ExternalIDRef),
			Code:    ErrExternalIDTarget,
		})
	}

	if err := ir.ValidateTransform(m.Transform); err != nil {
		errs = append(errs, ValidationError{Field: field + ".transform", Message: err.Error(), Code: ErrInvalidTransform})
	}

	switch {
	case m.Source == "" && m.Literal == nil:
		errs = append(errs, ValidationError{Field: field, Message: "source or literal is required", Code: ErrMappingNoValue})
	case m.Source != "" && m.Literal != nil:
		errs = append(errs, ValidationError{Field: field, Message: "source and literal are mutually exclusive", Code: ErrMappingNoValue})
	case m.Source != "":
		if _, ok := m.FocusSource(); ok {
			break
		}
		if ref, _, ok := m.ProjectionSource(); ok && isValidKey(ref) {
			break
		}
		errs = append(errs, ValidationError{
			Field:   field + ".source",
			Message: fmt.Sprintf("source %q must be focus.<path> or projection.<key>.<attr>", m.Source),
			Code:    ErrUnsupportedSource,
		})
	default:
		if containsNull(m.Literal) {
			errs = append(errs, ValidationError{Field: field + ".literal", Message: "null values are forbidden", Code: ErrInvalidLiteral})
		}
	}

	return errs
}

// isValidKey reports whether s is a resource/kind/intent discriminator key.
func isValidKey(s string) bool {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if !namePattern.MatchString(p) {
			return false
		}
	}
	return true
}

func containsNull(v ir.IRValue) bool {
	switch val := v.(type) {
	case ir.IRNull:
		return true
	case ir.IRArray:
		for _, e := range val {
			if containsNull(e) {
				return true
			}
		}
	case ir.IRObject:
		for _, e := range val {
			if containsNull(e) {
				return true
			}
		}
	}
	return false
}
