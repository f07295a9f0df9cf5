package server

import (
	"errors"
	"fmt"

	"port-rpc/message"
)

// Error is a procedure error with a wire code. Procedures return it to control
// the code the caller sees; any other error is reported as an internal error.
type Error struct {
	Code    int
	Message string
}

func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func errorShape(err error) *message.ErrorShape {
	var e *Error
	if errors.As(err, &e) {
		return &message.ErrorShape{Code: e.Code, Message: e.Message}
	}
	return &message.ErrorShape{Code: message.CodeInternalServerError, Message: err.Error()}
}
