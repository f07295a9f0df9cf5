package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"port-rpc/message"
)

// ErrDisconnected is the cause of the error a stream fails with when its port
// closes before the stream finished.
var ErrDisconnected = errors.New("Port disconnected prematurely")

// ClientError is what every failed operation reports: a remote error, a
// premature disconnect, or a local failure while starting the call.
type ClientError struct {
	Code    int             // Remote error code; 0 for local failures
	Message string          // Human readable message
	Data    json.RawMessage // Remote error data, if any
	Cause   error           // Local cause, if any
}

func (e *ClientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// IsRemote reports whether the error was reported by the other side of the port.
func (e *ClientError) IsRemote() bool {
	return e.Cause == nil && e.Code != 0
}

func errorFromShape(shape message.ErrorShape) *ClientError {
	msg := shape.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return &ClientError{Code: shape.Code, Message: msg, Data: shape.Data}
}

func errorFromCause(err error) *ClientError {
	msg := "Unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &ClientError{Message: msg, Cause: err}
}

func disconnectedError() *ClientError {
	return &ClientError{Message: ErrDisconnected.Error(), Cause: ErrDisconnected}
}
