package membership

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/roster"
)

// Wildcard matches any non-empty attribute value
const Wildcard = "*"

// Predicate decides whether a member belongs in a group defined by values
type Predicate func(m roster.MemberRecord, values ValueSet) bool

// ValueSet is a case-insensitive set of configured values
type ValueSet struct {
	values   map[string]struct{}
	wildcard bool
}

// NewValueSet folds values for matching
func NewValueSet(values []string) ValueSet {
	vs := ValueSet{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == Wildcard {
			vs.wildcard = true
			continue
		}
		if v != "" {
			vs.values[strings.ToLower(v)] = struct{}{}
		}
	}
	return vs
}

// Match reports whether value is in the set
func (vs ValueSet) Match(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if vs.wildcard {
		return true
	}
	_, ok := vs.values[strings.ToLower(value)]
	return ok
}

// MatchAny reports whether any of values is in the set
func (vs ValueSet) MatchAny(values []string) bool {
	return slices.ContainsFunc(values, vs.Match)
}

// AttributePredicate builds a predicate matching any value extract returns
func AttributePredicate(extract func(m roster.MemberRecord) []string) Predicate {
	return func(m roster.MemberRecord, values ValueSet) bool {
		return values.MatchAny(extract(m))
	}
}

// Registry holds named predicates. Group definitions refer to them by name.
type Registry struct {
	mu    sync.RWMutex
	preds map[string]Predicate
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{preds: make(map[string]Predicate)}
}

// DefaultRegistry returns a registry with the built-in attributes:
// type, rank, dutyPosition, achievement and all.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("type", AttributePredicate(func(m roster.MemberRecord) []string { return []string{m.Type} }))
	r.Register("rank", AttributePredicate(func(m roster.MemberRecord) []string { return []string{m.Rank} }))
	r.Register("dutyPosition", AttributePredicate(func(m roster.MemberRecord) []string { return m.DutyPositions }))
	r.Register("achievement", AttributePredicate(func(m roster.MemberRecord) []string { return m.Achievements }))
	r.Register("all", func(roster.MemberRecord, ValueSet) bool { return true })
	return r
}

// Register adds or replaces a predicate
func (r *Registry) Register(name string, p Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds[name] = p
}

// Lookup returns the predicate registered under name
func (r *Registry) Lookup(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preds[name]
	return p, ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.preds))
	for name := range r.preds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDefinitions checks that every definition names a registered attribute
func (r *Registry) ValidateDefinitions(defs []config.GroupDefinition) error {
	for i, def := range defs {
		if _, ok := r.Lookup(def.Attribute); !ok {
			return fmt.Errorf("groups[%d] (%s.%s): unknown attribute %q (known: %s)",
				i, def.Category, def.BaseName, def.Attribute, strings.Join(r.Names(), ", "))
		}
	}
	return nil
}
