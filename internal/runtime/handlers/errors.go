package handlers

import "fmt"

// UnprocessableMessageError reports a payload that could not be decoded into
// the handler's message type.
type UnprocessableMessageError struct {
	UUID   string
	Schema string
	Err    error
}

func (e *UnprocessableMessageError) Error() string {
	return fmt.Sprintf("unprocessable message %s (%s): %v", e.UUID, e.Schema, e.Err)
}

func (e *UnprocessableMessageError) Unwrap() error {
	return e.Err
}
