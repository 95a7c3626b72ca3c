package domain

import "sort"

// AttributeSet is a set of column names, compared exactly as the catalog
// stores them.
type AttributeSet map[string]struct{}

func NewAttributeSet(names ...string) AttributeSet {
	s := make(AttributeSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s AttributeSet) Len() int {
	return len(s)
}

func (s AttributeSet) IsEmpty() bool {
	return len(s) == 0
}

func (s AttributeSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersect returns a new set holding the names present in both s and other.
func (s AttributeSet) Intersect(other AttributeSet) AttributeSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(AttributeSet)
	for n := range small {
		if _, ok := large[n]; ok {
			out[n] = struct{}{}
		}
	}
	return out
}

// ContainsAll reports whether every member of other is in s. An empty other
// is never considered contained: no key or foreign key is declared over zero
// columns.
func (s AttributeSet) ContainsAll(other AttributeSet) bool {
	if len(other) == 0 {
		return false
	}
	for n := range other {
		if _, ok := s[n]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order, which keeps generated SQL and
// reports deterministic.
func (s AttributeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Only returns the single member of a one-element set.
func (s AttributeSet) Only() (string, bool) {
	if len(s) != 1 {
		return "", false
	}
	for n := range s {
		return n, true
	}
	return "", false
}
