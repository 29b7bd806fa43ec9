// Package kit holds the transport-agnostic plumbing shared by the HTTP and
// MCP surfaces: request-scoped context values and the Endpoint abstraction.
package kit

import "context"

// Endpoint is one transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
