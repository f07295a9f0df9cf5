// Package message defines the envelope exchanged over a port.
//
// Every envelope wraps a single body under the "trpc" key so that RPC traffic can
// share a channel with unrelated messages:
//
//	request:   {"trpc":{"id":"1","method":"query","params":{"path":"greet","input":"world"}}}
//	result:    {"trpc":{"id":"1","result":{"type":"data","data":"hello world"}}}
//	error:     {"trpc":{"id":"1","error":{"code":-32004,"message":"no such procedure"}}}
//	stop:      {"trpc":{"id":"2","method":"subscription.stop"}}
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Method names the kind of request carried by an envelope.
type Method string

const (
	MethodQuery            Method = "query"
	MethodMutation         Method = "mutation"
	MethodSubscription     Method = "subscription"
	MethodSubscriptionStop Method = "subscription.stop"
)

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodQuery, MethodMutation, MethodSubscription, MethodSubscriptionStop:
		return true
	}
	return false
}

// ResultType tags a result payload. An absent type means data.
type ResultType string

const (
	ResultData    ResultType = "data"
	ResultStarted ResultType = "started"
	ResultStopped ResultType = "stopped"
)

// Error codes, numbered like JSON-RPC 2.0 and tRPC.
const (
	CodeParseError          = -32700
	CodeBadRequest          = -32600
	CodeInternalServerError = -32603
	CodeNotFound            = -32004
	CodeMethodNotSupported  = -32005
	CodeTimeout             = -32008
	CodeTooManyRequests     = -32029
)

// ID correlates a response with the request that caused it.
// Remote peers may send numeric ids, so decoding accepts numbers as well.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message: id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// IDFromInt formats a counter value as an ID.
func IDFromInt(n uint64) ID {
	return ID(strconv.FormatUint(n, 10))
}

// Envelope is the outer wire shape. TRPC is nil for foreign messages.
type Envelope struct {
	TRPC *Body `json:"trpc,omitempty"`
}

// Body carries either a request (Method, Params) or a response (Result or Error).
type Body struct {
	ID      ID          `json:"id"`
	JSONRPC string      `json:"jsonrpc,omitempty"`
	Method  Method      `json:"method,omitempty"`
	Params  *Params     `json:"params,omitempty"`
	Result  *Result     `json:"result,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// Params are the arguments of a query, mutation or subscription request.
type Params struct {
	Path  string          `json:"path"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Result is the payload of a successful response.
type Result struct {
	Type ResultType      `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorShape is the payload of a failed response.
type ErrorShape struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Request is the typed view of a request envelope.
type Request struct {
	ID     ID
	Method Method
	Path   string
	Input  json.RawMessage
}

// Request returns the request view of e, or false when e is not a request.
func (e *Envelope) Request() (*Request, bool) {
	if e == nil || e.TRPC == nil || e.TRPC.ID == "" || !e.TRPC.Method.Valid() {
		return nil, false
	}
	if e.TRPC.Result != nil || e.TRPC.Error != nil {
		return nil, false
	}
	req := &Request{ID: e.TRPC.ID, Method: e.TRPC.Method}
	if p := e.TRPC.Params; p != nil {
		req.Path = p.Path
		req.Input = p.Input
	}
	return req, true
}

// Response is either *ResultResponse or *ErrorResponse.
type Response interface {
	ResponseID() ID
	isResponse()
}

// ResultResponse is a response carrying a result payload.
type ResultResponse struct {
	ID     ID
	Result Result
}

// ErrorResponse is a response carrying an error payload.
type ErrorResponse struct {
	ID    ID
	Error ErrorShape
}

func (r *ResultResponse) ResponseID() ID { return r.ID }
func (r *ErrorResponse) ResponseID() ID  { return r.ID }
func (*ResultResponse) isResponse()      {}
func (*ErrorResponse) isResponse()       {}

// Response returns the response view of e, or false when e is not a response.
// An error payload takes precedence over a result payload.
func (e *Envelope) Response() (Response, bool) {
	if e == nil || e.TRPC == nil || e.TRPC.ID == "" {
		return nil, false
	}
	switch {
	case e.TRPC.Error != nil:
		return &ErrorResponse{ID: e.TRPC.ID, Error: *e.TRPC.Error}, true
	case e.TRPC.Result != nil:
		return &ResultResponse{ID: e.TRPC.ID, Result: *e.TRPC.Result}, true
	}
	return nil, false
}

// NewRequest builds a request envelope. input must already be serialized.
func NewRequest(id ID, method Method, path string, input json.RawMessage) *Envelope {
	return &Envelope{TRPC: &Body{
		ID:     id,
		Method: method,
		Params: &Params{Path: path, Input: input},
	}}
}

// NewStop builds the envelope asking the remote side to end a subscription.
func NewStop(id ID) *Envelope {
	return &Envelope{TRPC: &Body{ID: id, Method: MethodSubscriptionStop}}
}

// NewResult builds a result envelope.
func NewResult(id ID, typ ResultType, data json.RawMessage) *Envelope {
	return &Envelope{TRPC: &Body{ID: id, Result: &Result{Type: typ, Data: data}}}
}

// NewError builds an error envelope.
func NewError(id ID, code int, msg string) *Envelope {
	return &Envelope{TRPC: &Body{ID: id, Error: &ErrorShape{Code: code, Message: msg}}}
}
