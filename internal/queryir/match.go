package queryir

import "github.com/roach88/tether/internal/ir"

// Matches evaluates a query against one object in memory. It agrees with
// the SQL backend and is used by in-memory repositories.
func Matches(q Query, obj *ir.Object) bool {
	if obj == nil {
		return false
	}
	var sel Select
	switch query := q.(type) {
	case Select:
		sel = query
	case *Select:
		sel = *query
	default:
		return false
	}
	if sel.From != obj.Type {
		return false
	}
	return sel.Filter == nil || matchPredicate(sel.Filter, obj)
}

func matchPredicate(p Predicate, obj *ir.Object) bool {
	switch pred := p.(type) {
	case Equals:
		return matchEquals(pred, obj)
	case *Equals:
		return matchEquals(*pred, obj)
	case And:
		return matchAnd(pred.Predicates, obj)
	case *And:
		return matchAnd(pred.Predicates, obj)
	case Or:
		return matchOr(pred.Predicates, obj)
	case *Or:
		return matchOr(pred.Predicates, obj)
	case Absent:
		return matchAbsent(pred.Field, obj)
	case *Absent:
		return matchAbsent(pred.Field, obj)
	default:
		return false
	}
}

func matchAnd(preds []Predicate, obj *ir.Object) bool {
	for _, p := range preds {
		if !matchPredicate(p, obj) {
			return false
		}
	}
	return true
}

func matchOr(preds []Predicate, obj *ir.Object) bool {
	for _, p := range preds {
		if matchPredicate(p, obj) {
			return true
		}
	}
	return false
}

func fieldValue(field string, obj *ir.Object) (ir.IRValue, bool) {
	switch field {
	case FieldID:
		return ir.IRString(obj.ID), true
	case FieldVersion:
		return ir.IRInt(obj.Version), true
	}
	return obj.Get(field)
}

func matchEquals(eq Equals, obj *ir.Object) bool {
	v, ok := fieldValue(eq.Field, obj)
	if !ok {
		return false
	}
	for _, candidate := range ir.Values(v) {
		if ir.Equal(candidate, eq.Value) {
			return true
		}
	}
	return false
}

func matchAbsent(field string, obj *ir.Object) bool {
	v, ok := fieldValue(field, obj)
	if !ok {
		return true
	}
	_, isNull := v.(ir.IRNull)
	return isNull
}
