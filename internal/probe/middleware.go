package probe

import (
	"net/http"
)

// Middleware records every request as class "http.<path>" and method
// "<HTTP method>". Requests are timed from entry until next returns.
func Middleware(p *Probe, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := p.Enter(r.Context(), "http."+routeOf(r), r.Method)
		defer span.End()
		next.ServeHTTP(w, r)
	})
}

func routeOf(r *http.Request) string {
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}
