package queryir

import (
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// Canonical returns the canonical JSON encoding of a query. Pointer and
// value forms of the same node encode identically.
func Canonical(q Query) ([]byte, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(queryValue(q))
}

// Fingerprint returns the domain-separated hash of the canonical encoding.
func Fingerprint(q Query) (string, error) {
	if err := Validate(q); err != nil {
		return "", err
	}
	return ir.ContentHash(ir.DomainQuery, queryValue(q))
}

func queryValue(q Query) ir.IRObject {
	var sel Select
	switch query := q.(type) {
	case Select:
		sel = query
	case *Select:
		sel = *query
	}
	out := ir.IRObject{"from": ir.IRString(sel.From)}
	if sel.Filter != nil {
		out["filter"] = predicateValue(sel.Filter)
	}
	return out
}

func predicateValue(p Predicate) ir.IRObject {
	switch pred := p.(type) {
	case Equals:
		return ir.IRObject{"op": ir.IRString("eq"), "field": ir.IRString(pred.Field), "value": pred.Value}
	case *Equals:
		return predicateValue(*pred)
	case And:
		return ir.IRObject{"op": ir.IRString("and"), "args": predicateList(pred.Predicates)}
	case *And:
		return predicateValue(*pred)
	case Or:
		return ir.IRObject{"op": ir.IRString("or"), "args": predicateList(pred.Predicates)}
	case *Or:
		return predicateValue(*pred)
	case Absent:
		return ir.IRObject{"op": ir.IRString("absent"), "field": ir.IRString(pred.Field)}
	case *Absent:
		return predicateValue(*pred)
	default:
		panic(fmt.Sprintf("queryir: unvalidated predicate %T", p))
	}
}

func predicateList(preds []Predicate) ir.IRArray {
	out := make(ir.IRArray, len(preds))
	for i, p := range preds {
		out[i] = predicateValue(p)
	}
	return out
}
