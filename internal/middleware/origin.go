package middleware

import (
	"net/http"
	"strings"
)

// OriginGate rejects requests whose Origin header is non-empty and not
// on the allow-list, before any handler work. An absent origin is
// permitted so server-to-server and non-browser callers pass. The CORS
// layer echoes allowed origins; this gate is what makes unknown ones
// fail closed with a 403.
func OriginGate(allowed []string) func(http.Handler) http.Handler {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowSet[normalizeOrigin(o)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowSet[normalizeOrigin(origin)]; !ok {
					http.Error(w, `{"error":"origin not allowed"}`, http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether an origin passes the allow-list. Used
// by the CORS layer's AllowOriginFunc so both checks share one policy.
func OriginAllowed(allowed []string) func(r *http.Request, origin string) bool {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowSet[normalizeOrigin(o)] = struct{}{}
	}
	return func(r *http.Request, origin string) bool {
		_, ok := allowSet[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}
