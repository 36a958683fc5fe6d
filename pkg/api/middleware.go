package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/pkg/store"
)

type contextKey string

const tokenContextKey contextKey = "token"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAuth validates the Bearer token against the seeded credentials
// and injects it into the request context.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		token, err := s.store.VerifyToken(r.Context(), authHeader[7:])
		if err != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid token"})

			return
		}

		ctx := context.WithValue(r.Context(), tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenFromContext extracts the authenticated token from the request
// context.
func tokenFromContext(ctx context.Context) *store.Token {
	token, _ := ctx.Value(tokenContextKey).(*store.Token)

	return token
}

// requireWriter rejects read-only tokens on mutating routes. Seeded
// tokens default to the writer role; a "reader" token can use
// authenticated read endpoints but not submit.
func (s *server) requireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromContext(r.Context())
		if token == nil || token.Role == store.RoleReader {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"write access required"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
