package engine

import (
	"errors"
	"fmt"
)

// ErrSessionActive is returned by Start while a conversation is still running.
var ErrSessionActive = errors.New("engine: a conversation is already active")

// ValidationError reports bad input to Start. No state is changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Reason)
}
