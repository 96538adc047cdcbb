package domain

import "strings"

// Character is a roleplay participant. Character records live in the
// client; the server only sees them as part of a turn request.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Personality string `json:"personality,omitempty"`
	Description string `json:"description,omitempty"`
}

// DisplayName returns the character's name, falling back to its id.
func (c Character) DisplayName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return c.ID
}

// FindCharacter returns the character with the given id.
func FindCharacter(chars []Character, id string) (Character, bool) {
	for _, c := range chars {
		if c.ID == id {
			return c, true
		}
	}
	return Character{}, false
}
