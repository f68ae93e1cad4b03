package constraint

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash"

	"github.com/roach88/tether/internal/cache"
	"github.com/roach88/tether/internal/ir"
)

// Session holds the uniqueness facts confirmed during one unit of work.
// Facts are only ever positive: a recorded key is known to be conflict-free.
type Session struct {
	mu    sync.Mutex
	facts map[uint64][]string
	n     int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{facts: make(map[uint64][]string)}
}

// Clear forgets every fact.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = make(map[uint64][]string)
	s.n = 0
}

// Len returns the number of recorded facts.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *Session) known(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.facts[xxhash.Sum64String(key)] {
		if k == key {
			return true
		}
	}
	return false
}

func (s *Session) record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := xxhash.Sum64String(key)
	for _, k := range s.facts[h] {
		if k == key {
			return
		}
	}
	s.facts[h] = append(s.facts[h], key)
	s.n++
}

// Observe clears the session whenever a write through scope could create a
// conflict: any shadow add, and any shadow modify that touches an identifier
// attribute of a class defined in rs.
func (s *Session) Observe(scope *cache.Scope, rs *ir.ResourceSet) {
	identifiers := map[string]bool{}
	for _, key := range rs.Keys() {
		def, _ := rs.Get(key)
		for _, attr := range def.ObjectClass.Identifiers() {
			identifiers[ir.AttrAttributes+"."+attr] = true
		}
	}

	scope.OnWrite(func(ev cache.WriteEvent) {
		if ev.Type != ir.TypeShadow {
			return
		}
		switch ev.Op {
		case cache.WriteAdd:
			s.Clear()
		case cache.WriteModify:
			for _, m := range ev.Modifications {
				if touchesIdentifier(m.Path, identifiers) {
					s.Clear()
					return
				}
			}
		}
	})
}

func touchesIdentifier(path string, identifiers map[string]bool) bool {
	// Replacing the whole attribute set, or the role that scopes it.
	switch path {
	case ir.AttrAttributes, ir.AttrResource, ir.AttrObjectClass:
		return true
	}
	if identifiers[path] {
		return true
	}
	for id := range identifiers {
		if strings.HasPrefix(path, id+".") {
			return true
		}
	}
	return false
}
