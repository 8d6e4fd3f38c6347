package request

import "fmt"

// ValidationError reports a request rejected before any device access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid provisioning request: " + e.Reason
	}
	return fmt.Sprintf("invalid provisioning request: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
