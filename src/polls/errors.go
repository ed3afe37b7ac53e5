package polls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("poll not found")
	ErrNotVoting = errors.New("poll is not in the voting stage")
	ErrNotMember = errors.New("not a member of this channel")
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
