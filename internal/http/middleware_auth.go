package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// AuthMiddleware guards the API with a shared bearer token.
type AuthMiddleware struct {
	token  string
	logger requestLogger
}

// NewAuthMiddleware returns a middleware for token. An empty token leaves
// the API open.
func NewAuthMiddleware(token string, logger requestLogger) *AuthMiddleware {
	return &AuthMiddleware{token: token, logger: logger}
}

func (m *AuthMiddleware) RequireToken(next http.Handler) http.Handler {
	if m.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
			m.logger.Info("request denied",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"reason", "invalid_token",
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="respawn"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
