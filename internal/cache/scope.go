// Package cache is the request-scoped read-through cache in front of the
// authoritative store.
//
// A Scope is opened with Begin at the start of one unit of work and closed
// with End. Repository wraps any repo.Repository and consults the scope on
// reads; writes always reach the inner repository first and then invalidate
// the written object and every cached search of its type. Scopes are never
// shared between concurrent units of work.
package cache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/tether/internal/ir"
)

// Defaults for Begin.
const (
	DefaultMaxEntries = 4096
	DefaultMaxQueries = 512
)

// DefaultNeverCache lists types that always pass through.
var DefaultNeverCache = []string{ir.TypeTask}

type objectKey struct {
	typ string
	id  string
}

type queryKey struct {
	typ string
	fp  uint64
}

type queryEntry struct {
	canonical string
	results   []*ir.Object
}

// WriteOp names a successful write observed by a scope.
type WriteOp string

const (
	WriteAdd    WriteOp = "add"
	WriteModify WriteOp = "modify"
	WriteDelete WriteOp = "delete"
)

// WriteEvent describes a write that reached the inner repository.
type WriteEvent struct {
	Op            WriteOp
	Type          string
	ID            string
	Object        *ir.Object    // add only
	Modifications []ir.ItemDelta // modify only
}

// WriteListener observes successful writes made through a scope.
type WriteListener func(WriteEvent)

type config struct {
	maxEntries int
	maxQueries int
	neverCache []string
}

// Option configures a Scope.
type Option func(*config)

// WithMaxEntries bounds the number of cached objects.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMaxQueries bounds the number of cached search results.
func WithMaxQueries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxQueries = n
		}
	}
}

// WithNeverCache replaces the set of types that always pass through.
func WithNeverCache(types ...string) Option {
	return func(c *config) {
		c.neverCache = types
	}
}

// Scope holds the cached state of one unit of work.
type Scope struct {
	mu sync.Mutex

	entries  *lru.Cache[objectKey, *ir.Object]
	versions *lru.Cache[objectKey, int64]
	queries  *lru.Cache[queryKey, queryEntry]

	// queriesByType indexes cached searches for wholesale invalidation. It
	// is maintained by the query cache's eviction callback.
	queriesByType map[string]map[queryKey]struct{}

	neverCache map[string]bool
	listeners  []WriteListener
	ended      bool
}

// Begin opens a scope.
func Begin(opts ...Option) *Scope {
	cfg := config{
		maxEntries: DefaultMaxEntries,
		maxQueries: DefaultMaxQueries,
		neverCache: DefaultNeverCache,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Scope{
		queriesByType: make(map[string]map[queryKey]struct{}),
		neverCache:    make(map[string]bool, len(cfg.neverCache)),
	}
	for _, t := range cfg.neverCache {
		s.neverCache[t] = true
	}

	// lru.New only fails for non-positive sizes, which the options exclude.
	s.entries, _ = lru.New[objectKey, *ir.Object](cfg.maxEntries)
	s.versions, _ = lru.New[objectKey, int64](cfg.maxEntries)
	s.queries, _ = lru.NewWithEvict[queryKey, queryEntry](cfg.maxQueries, func(k queryKey, _ queryEntry) {
		if set := s.queriesByType[k.typ]; set != nil {
			delete(set, k)
			if len(set) == 0 {
				delete(s.queriesByType, k.typ)
			}
		}
	})
	return s
}

// End discards all cached state. An ended scope passes every call through.
func (s *Scope) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.entries.Purge()
	s.versions.Purge()
	s.queries.Purge()
	s.listeners = nil
}

// Active reports whether the scope is open.
func (s *Scope) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// OnWrite registers a listener for successful writes.
func (s *Scope) OnWrite(fn WriteListener) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Cacheable reports whether objects of typ may be cached.
func (s *Scope) Cacheable(typ string) bool {
	return s != nil && !s.neverCache[typ]
}

// Len returns the number of cached objects and searches.
func (s *Scope) Len() (objects, queries int) {
	if s == nil {
		return 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len(), s.queries.Len()
}

func (s *Scope) getObject(k objectKey) (*ir.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, false
	}
	obj, ok := s.entries.Get(k)
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

func (s *Scope) putObject(obj *ir.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	k := objectKey{typ: obj.Type, id: obj.ID}
	s.entries.Add(k, obj.Clone())
	s.versions.Add(k, obj.Version)
}

func (s *Scope) getVersion(k objectKey) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return 0, false
	}
	if v, ok := s.versions.Get(k); ok {
		return v, true
	}
	if obj, ok := s.entries.Get(k); ok {
		return obj.Version, true
	}
	return 0, false
}

func (s *Scope) putVersion(k objectKey, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.versions.Add(k, v)
}

func (s *Scope) getQuery(k queryKey, canonical string) ([]*ir.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, false
	}
	e, ok := s.queries.Get(k)
	if !ok || e.canonical != canonical {
		return nil, false
	}
	return cloneList(e.results), true
}

func (s *Scope) putQuery(k queryKey, canonical string, results []*ir.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.queries.Add(k, queryEntry{canonical: canonical, results: cloneList(results)})
	set := s.queriesByType[k.typ]
	if set == nil {
		set = make(map[queryKey]struct{})
		s.queriesByType[k.typ] = set
	}
	set[k] = struct{}{}
}

// invalidate drops the object, its version and every search of its type,
// then notifies listeners. It returns the number of dropped entries.
func (s *Scope) invalidate(ev WriteEvent) int {
	s.mu.Lock()
	k := objectKey{typ: ev.Type, id: ev.ID}
	dropped := 0
	if s.entries.Remove(k) {
		dropped++
	}
	if s.versions.Remove(k) {
		dropped++
	}
	keys := make([]queryKey, 0, len(s.queriesByType[ev.Type]))
	for qk := range s.queriesByType[ev.Type] {
		keys = append(keys, qk)
	}
	for _, qk := range keys {
		if s.queries.Remove(qk) {
			dropped++
		}
	}
	listeners := append([]WriteListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	return dropped
}

func cloneList(objs []*ir.Object) []*ir.Object {
	out := make([]*ir.Object, len(objs))
	for i, o := range objs {
		out[i] = o.Clone()
	}
	return out
}

type scopeKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
