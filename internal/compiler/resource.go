package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tether/internal/ir"
)

// Defaults applied when a resource definition omits kind or intent.
const (
	DefaultKind   = "account"
	DefaultIntent = "default"
)

// CompileResource parses a CUE value into a ResourceDefinition.
//
// The value is one entry of the top-level resource struct:
//
//	resource: ldap: {
//		objectClass: "inetOrgPerson"
//		identifiers: primary: ["uid"]
//		mappings: [{target: "uid", source: "focus.name", transform: "lower"}]
//	}
//
// The label names the resource unless a resource field overrides it, so
// several roles on one resource can be declared under distinct labels.
func CompileResource(v cue.Value) (*ir.ResourceDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.ResourceDefinition{Kind: DefaultKind, Intent: DefaultIntent}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		sel := labels[len(labels)-1]
		if sel.LabelType() == cue.StringLabel {
			def.Resource = sel.Unquoted()
		} else {
			def.Resource = sel.String()
		}
	}

	var err error
	if def.Resource, err = optionalString(v, "resource", def.Resource); err != nil {
		return nil, err
	}
	if def.Kind, err = optionalString(v, "kind", def.Kind); err != nil {
		return nil, err
	}
	if def.Intent, err = optionalString(v, "intent", def.Intent); err != nil {
		return nil, err
	}
	if def.Reaction, err = optionalString(v, "reaction", ""); err != nil {
		return nil, err
	}

	ocVal := v.LookupPath(cue.ParsePath("objectClass"))
	if !ocVal.Exists() {
		return nil, &CompileError{
			Field:   "objectClass",
			Message: "objectClass is required",
			Pos:     v.Pos(),
		}
	}
	if def.ObjectClass.Name, err = ocVal.String(); err != nil {
		return nil, formatCUEError(err)
	}

	if reqVal := v.LookupPath(cue.ParsePath("required")); reqVal.Exists() {
		if def.Required, err = reqVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if def.ObjectClass.PrimaryIdentifiers, err = stringList(v, "identifiers.primary"); err != nil {
		return nil, err
	}
	if def.ObjectClass.SecondaryIdentifiers, err = stringList(v, "identifiers.secondary"); err != nil {
		return nil, err
	}
	if def.Implies, err = stringList(v, "implies"); err != nil {
		return nil, err
	}
	if def.DependsOn, err = stringList(v, "dependsOn"); err != nil {
		return nil, err
	}

	def.Mappings, err = parseMappings(v)
	if err != nil {
		return nil, err
	}

	return def, nil
}

// parseMappings reads the ordered mappings list. Each entry has a target and
// either a source or a literal.
func parseMappings(v cue.Value) ([]ir.Mapping, error) {
	listVal := v.LookupPath(cue.ParsePath("mappings"))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var mappings []ir.Mapping
	for i := 0; iter.Next(); i++ {
		mv := iter.Value()
		field := fmt.Sprintf("mappings[%d]", i)

		var m ir.Mapping
		if m.Target, err = optionalString(mv, "target", ""); err != nil {
			return nil, err
		}
		if m.Target == "" {
			return nil, &CompileError{Field: field + ".target", Message: "target is required", Pos: mv.Pos()}
		}
		if m.Source, err = optionalString(mv, "source", ""); err != nil {
			return nil, err
		}
		if m.Transform, err = optionalString(mv, "transform", ""); err != nil {
			return nil, err
		}

		litVal := mv.LookupPath(cue.ParsePath("literal"))
		switch {
		case litVal.Exists() && m.Source != "":
			return nil, &CompileError{Field: field, Message: "source and literal are mutually exclusive", Pos: mv.Pos()}
		case litVal.Exists():
			if m.Literal, err = extractValue(litVal); err != nil {
				return nil, err
			}
		case m.Source == "":
			return nil, &CompileError{Field: field, Message: "source or literal is required", Pos: mv.Pos()}
		}

		mappings = append(mappings, m)
	}
	return mappings, nil
}

// extractValue converts a concrete CUE value into an IR value. Floats are
// forbidden.
func extractValue(v cue.Value) (ir.IRValue, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := extractValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := extractValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "literal",
			Message: "float values are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "literal",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func optionalString(v cue.Value, path, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
