package middleware

import (
	"context"

	"port-rpc/message"
)

// Call is a query or mutation as seen by the server, after input transformation.
type Call struct {
	ID     message.ID
	Method message.Method
	Path   string
	Input  any
}

// Reply is the outcome of a Call: Data on success, Error otherwise.
type Reply struct {
	Data  any
	Error *message.ErrorShape
}

// ErrorReply builds a failed Reply.
func ErrorReply(code int, msg string) *Reply {
	return &Reply{Error: &message.ErrorShape{Code: code, Message: msg}}
}

type HandlerFunc func(ctx context.Context, call *Call) *Reply

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
