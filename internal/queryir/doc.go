// Package queryir is the backend-neutral query representation used to
// search the authoritative store.
//
// A query selects objects of one type and filters them with a predicate
// tree over attribute paths:
//
//	Select{
//	  From: "shadow",
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "resource", Value: ir.IRString("ldap")},
//	    Equals{Field: "attributes.uid", Value: ir.IRString("jdoe")},
//	    Or{Predicates: []Predicate{
//	      Equals{Field: "dead", Value: ir.IRBool(false)},
//	      Absent{Field: "dead"},
//	    }},
//	  }},
//	}
//
// Fields "id" and "version" address the object envelope. Every other field
// is a dotted path into the object's attributes. Equals matches when the
// attribute equals the value or, for a multi-valued attribute, contains it.
//
// Query and Predicate are sealed. Backends switch exhaustively over the
// types declared here. The canonical form (see Canonical) is the identity of
// a query: two queries with equal canonical bytes return the same result on
// the same store state. The search cache keys on it.
package queryir
