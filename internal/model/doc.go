// Package model defines the change context: the unit of work carried through
// the clockwork phases. A context owns one focus sub-context and any number
// of projection sub-contexts, each with its pending deltas and the record of
// every delta already attempted.
//
// Contexts are plain data. They are mutated only by the clockwork and the
// discovery compensator, and survive process boundaries through
// ToPortable/FromPortable.
package model
