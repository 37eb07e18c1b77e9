package analysis

import "fmt"

// ValidationError reports malformed input configuration. It always names the
// entity so callers can surface something better than "failed".
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
}
