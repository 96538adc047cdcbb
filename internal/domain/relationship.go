package domain

import "strings"

// RelationshipKey returns the canonical key for an unordered pair of
// participants.
func RelationshipKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// SetRelationship records the relationship between two participants.
// An empty label removes it. Older documents may hold the pair under either
// ordering; that entry is replaced by the canonical one.
func (s *Session) SetRelationship(a, b, label string) error {
	if a == "" || b == "" {
		return &ValidationError{Field: "relationship", Message: "both participant ids are required"}
	}
	if a == b {
		return &ValidationError{Field: "relationship", Message: "a participant cannot relate to itself"}
	}
	if s.RelationshipMap == nil {
		s.RelationshipMap = map[string]string{}
	}
	delete(s.RelationshipMap, a+"_"+b)
	delete(s.RelationshipMap, b+"_"+a)
	if label = strings.TrimSpace(label); label != "" {
		s.RelationshipMap[RelationshipKey(a, b)] = label
	}
	s.UpdatedAt = NowMillis()
	return nil
}

// Relationship returns the label for a pair, checking both orderings.
func (s *Session) Relationship(a, b string) (string, bool) {
	if v, ok := s.RelationshipMap[a+"_"+b]; ok {
		return v, true
	}
	v, ok := s.RelationshipMap[b+"_"+a]
	return v, ok
}
