package consultation

import "fmt"

// NotFoundError is returned by Store lookups, updates and deletes that miss.
type NotFoundError struct {
	ConsultationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("consultation %s not found", e.ConsultationID)
}

// DuplicateIDError is returned by Create when the consultationId is taken.
type DuplicateIDError struct {
	ConsultationID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("consultation %s already exists", e.ConsultationID)
}

// ValidationError rejects a request before any pipeline stage runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ImmutableFieldError rejects an update that touches a protected field.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %q cannot be modified", e.Field)
}
