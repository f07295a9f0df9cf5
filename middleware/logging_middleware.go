package middleware

import (
	"context"
	"log"
	"time"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Reply {
			start := time.Now()
			reply := next(ctx, call)
			// Print the procedure, the time taken and the error if any
			duration := time.Since(start)
			log.Printf("%s %s id=%s duration=%s", call.Method, call.Path, call.ID, duration)
			if reply.Error != nil {
				log.Printf("%s %s id=%s error: %s (code %d)", call.Method, call.Path, call.ID, reply.Error.Message, reply.Error.Code)
			}
			return reply
		}
	}
}
