package types

import (
	"encoding/json"
	"sort"
)

// CapabilitySet is a set of capability tags with exact-string semantics.
// The zero value is an empty set; use NewCapabilitySet to build one from
// a slice. Matching between an agent's declared capabilities and a task's
// requirements is plain set containment, no fuzzy or semantic matching.
type CapabilitySet map[string]struct{}

// NewCapabilitySet builds a set from the given tags, dropping empty strings
// and duplicates.
func NewCapabilitySet(tags ...string) CapabilitySet {
	s := make(CapabilitySet, len(tags))
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Has reports whether the set contains the given tag.
func (s CapabilitySet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// ContainsAll reports whether every tag in other is present in s.
// An empty other is contained in any set.
func (s CapabilitySet) ContainsAll(other CapabilitySet) bool {
	if len(other) > len(s) {
		return false
	}
	for tag := range other {
		if _, ok := s[tag]; !ok {
			return false
		}
	}
	return true
}

// Equal reports whether both sets contain exactly the same tags.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// List returns the tags in sorted order.
func (s CapabilitySet) List() []string {
	tags := make([]string, 0, len(s))
	for t := range s {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	c := make(CapabilitySet, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as a sorted JSON array of strings.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a JSON array of strings into the set.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewCapabilitySet(tags...)
	return nil
}
