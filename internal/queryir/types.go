package queryir

import "github.com/roach88/tether/internal/ir"

// Envelope fields addressable by predicates. Anything else is an attribute
// path.
const (
	FieldID      = "id"
	FieldVersion = "version"
)

// Query is a sealed query node.
type Query interface {
	queryNode()
}

// Predicate is a sealed filter node.
type Predicate interface {
	predicateNode()
}

// Select returns all objects of type From that satisfy Filter, ordered by id.
// A nil Filter selects every object of the type.
type Select struct {
	From   string
	Filter Predicate
}

func (Select) queryNode() {}

// Equals matches when Field equals Value, or when Field is multi-valued and
// one of its values equals Value. Value must be a scalar.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// And matches when every sub-predicate matches. An empty And matches all.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or matches when at least one sub-predicate matches. An empty Or matches
// nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Absent matches when Field is missing or null.
type Absent struct {
	Field string
}

func (Absent) predicateNode() {}

// Eq is shorthand for an Equals predicate.
func Eq(field string, value ir.IRValue) Equals {
	return Equals{Field: field, Value: value}
}

// AllOf is shorthand for an And predicate.
func AllOf(preds ...Predicate) And {
	return And{Predicates: preds}
}

// AnyOf is shorthand for an Or predicate.
func AnyOf(preds ...Predicate) Or {
	return Or{Predicates: preds}
}
