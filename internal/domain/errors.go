package domain

import (
	"errors"
	"fmt"
)

// Capability names used in CapabilityError.
const (
	CapabilityGeneration    = "generation"
	CapabilitySynthesis     = "synthesis"
	CapabilityTranscription = "transcription"
)

// CapabilityError is a failed call into an upstream AI capability. StatusCode
// is the upstream HTTP status, or 0 when the call never got a response.
type CapabilityError struct {
	Capability string
	StatusCode int
	Message    string
	Err        error
}

func (e *CapabilityError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Capability, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Capability, msg)
}

func (e *CapabilityError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *CapabilityError) HTTPStatusCode() int {
	return e.StatusCode
}

// AsCapabilityError unwraps err into a *CapabilityError if it is one.
func AsCapabilityError(err error) (*CapabilityError, bool) {
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
