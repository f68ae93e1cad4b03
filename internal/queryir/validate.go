package queryir

import (
	"errors"
	"fmt"

	"github.com/roach88/tether/internal/ir"
)

// ErrInvalidQuery is wrapped by every validation failure.
var ErrInvalidQuery = errors.New("invalid query")

// Validate checks that a query can be compiled by every backend: a type is
// named, fields are non-empty, and compared values are scalars.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	switch query := q.(type) {
	case nil:
		return fmt.Errorf("%w: nil query", ErrInvalidQuery)
	case Select:
		return validateSelect(query)
	case *Select:
		if query == nil {
			return fmt.Errorf("%w: nil query", ErrInvalidQuery)
		}
		return validateSelect(*query)
	default:
		return fmt.Errorf("%w: unknown query type %T", ErrInvalidQuery, q)
	}
}

func validateSelect(sel Select) error {
	if sel.From == "" {
		return fmt.Errorf("%w: select without type", ErrInvalidQuery)
	}
	if sel.Filter == nil {
		return nil
	}
	return validatePredicate(sel.Filter)
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return fmt.Errorf("%w: nil predicate", ErrInvalidQuery)
	case Equals:
		return validateEquals(pred)
	case *Equals:
		return validateEquals(*pred)
	case And:
		return validateAll(pred.Predicates)
	case *And:
		return validateAll(pred.Predicates)
	case Or:
		return validateAll(pred.Predicates)
	case *Or:
		return validateAll(pred.Predicates)
	case Absent:
		return validateField(pred.Field)
	case *Absent:
		return validateField(pred.Field)
	default:
		return fmt.Errorf("%w: unknown predicate type %T", ErrInvalidQuery, p)
	}
}

func validateAll(preds []Predicate) error {
	for i, sub := range preds {
		if err := validatePredicate(sub); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
	}
	return nil
}

func validateEquals(eq Equals) error {
	if err := validateField(eq.Field); err != nil {
		return err
	}
	switch eq.Value.(type) {
	case ir.IRString, ir.IRInt, ir.IRBool:
		return nil
	case nil, ir.IRNull:
		return fmt.Errorf("%w: field %q compared to null, use Absent", ErrInvalidQuery, eq.Field)
	default:
		return fmt.Errorf("%w: field %q compared to non-scalar %T", ErrInvalidQuery, eq.Field, eq.Value)
	}
}

func validateField(field string) error {
	if field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidQuery)
	}
	return nil
}
