package normalize

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidPayload matches every *ValidationError via errors.Is.
	ErrInvalidPayload = errors.New("invalid inbound payload")
	ErrInvalidTenant  = errors.New("invalid tenantId (tenant not found)")
)

type Issue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every failing field, not just the first one.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Reason)
	}
	return ErrInvalidPayload.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidPayload }

func (e *ValidationError) add(field, reason string) {
	e.Issues = append(e.Issues, Issue{Field: field, Reason: reason})
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
