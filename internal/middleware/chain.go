// Package middleware holds the HTTP middleware stack shared by the gallery
// server's routes.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/conneroisu/gstdots/internal/logging"
)

// Middleware represents a single middleware function
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first middleware added is the
// outermost wrapper.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain from middlewares, outermost first.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: append([]Middleware(nil), middlewares...)}
}

// Use appends middleware as the new innermost wrapper.
func (c *Chain) Use(m Middleware) {
	c.middlewares = append(c.middlewares, m)
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Apply wraps handler with every middleware in the chain.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}
	return wrapped
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes the websocket upgrade through to the underlying writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Logging logs one line per request.
func Logging(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Debug(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Recovery turns a handler panic into a 500 response.
func Recovery(logger logging.Logger) Middleware {
	logger = logger.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error(r.Context(), fmt.Errorf("panic: %v", v), "Handler panicked", "path", r.URL.Path)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets conservative response headers on every response.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			next.ServeHTTP(w, r)
		})
	}
}
