package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"port-rpc/message"
)

// RetryMiddleware retries queries that failed with a timeout or a refused
// connection, backing off exponentially. Mutations are never retried.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) *Reply {
			reply := next(ctx, call)
			if call.Method != message.MethodQuery {
				return reply
			}
			for i := 0; i < maxRetries; i++ {
				if !retryable(reply) {
					return reply
				}
				log.Printf("Retry attempt %d for %s due to error: %s", i+1, call.Path, reply.Error.Message)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return reply
				}
				reply = next(ctx, call)
			}
			return reply // Return last response after retries
		}
	}
}

func retryable(reply *Reply) bool {
	if reply.Error == nil {
		return false
	}
	return reply.Error.Code == message.CodeTimeout || strings.Contains(reply.Error.Message, "connection refused")
}
