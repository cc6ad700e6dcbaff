// Package cors answers cross-origin requests for a fixed list of origins.
package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Options lists what cross-origin callers may do.
type Options struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// Enabled reports whether any origin is allowed.
func (o Options) Enabled() bool {
	return len(o.AllowedOrigins) > 0
}

// New returns a middleware that rejects requests from unknown origins with 403,
// answers allowed pre-flight requests with 204 and decorates all other responses
// with the Access-Control-Allow-* headers. Requests without an Origin header are
// not cross-origin and pass through untouched.
func New(logger log.Logger, opts Options) func(http.Handler) http.Handler {
	logger = log.With(logger, "component", "cors")

	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if _, ok := origins[origin]; !ok {
				level.Warn(logger).Log("msg", "origin not allowed", "origin", origin, "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if opts.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
