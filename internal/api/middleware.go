package api

import (
	"net/http"
	"strings"

	"github.com/readify/gateway/internal/apperr"
	"github.com/readify/gateway/internal/auth"
)

// requireIdentity verifies the Authorization bearer token with the same
// verifier the WebSocket handshake uses and binds the identity to the
// request context.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.rejectUnauthenticated(w, r, "missing bearer token")
			return
		}
		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.rejectUnauthenticated(w, r, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func (s *Server) rejectUnauthenticated(w http.ResponseWriter, r *http.Request, reason string) {
	s.logger.Debug("api request rejected", "path", r.URL.Path, "reason", reason)
	w.Header().Set("WWW-Authenticate", `Bearer realm="readify-gateway"`)
	writeError(w, http.StatusUnauthorized, apperr.MsgUnauthenticated)
}

// noSniffNoStore marks every response as non-cacheable live data.
func noSniffNoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// originPolicy is the configured allowed_origins list.
type originPolicy struct {
	any     bool
	origins map[string]struct{}
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		if o == "*" {
			p.any = true
		}
		p.origins[o] = struct{}{}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// cors answers preflight requests for the read-only stats endpoints.
func (p originPolicy) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case p.any:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && p.allows(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
