package agent

import (
	"errors"
	"fmt"
)

// Code classifies adapter failures for the client.
type Code string

const (
	// CodeConnection covers transports that failed to open or closed
	// unexpectedly.
	CodeConnection Code = "connection"
	// CodeAuth covers missing or rejected credentials, surfaced on connect.
	CodeAuth Code = "auth"
	// CodeUpstream covers non-success responses from a provider API call;
	// the adapter stays connected for the next turn.
	CodeUpstream Code = "upstream"
)

// Error is an adapter-local failure tagged with the originating agent so the
// client can distinguish "this provider failed" from "everything failed".
type Error struct {
	Agent ID
	Code  Code
	Err   error
}

// NewError wraps err with an agent tag and taxonomy code.
func NewError(agent ID, code Code, err error) *Error {
	return &Error{Agent: agent, Code: code, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", e.Agent, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the taxonomy code from err, defaulting to upstream.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUpstream
}
