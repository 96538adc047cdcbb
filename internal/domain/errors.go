package domain

import "fmt"

// ValidationError reports input that was rejected before any state changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotFoundError reports a reference to a session or node that does not exist.
type NotFoundError struct {
	Kind string // "session" | "node"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvariantError reports an operation that would leave a session in an
// invalid state, such as deleting its only node.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "invariant: " + e.Message
}
