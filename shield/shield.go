// Package shield provides the HTTP middleware stack in front of the botrule
// routes: security headers, request tracing, body limits and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(cfg.MaxBodyBytes) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware stack for the rule API, outermost
// first: Recoverer → HeadToGet → SecurityHeaders → MaxBody → TraceID.
// maxBody <= 0 disables the body limit.
func DefaultStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.Recoverer,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
