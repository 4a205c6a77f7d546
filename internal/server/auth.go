package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// jwtAuth guards the admin routes with a bearer token signed with JWTSecret.
// Grounded on the standard golang-jwt HS256 bearer-token pattern; this
// system has no user-account model, so the token's subject is not checked,
// only its signature and expiry.
func (s *Server) jwtAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			http.Error(w, "admin routes disabled: JWT_SECRET not configured", http.StatusServiceUnavailable)
			return
		}

		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return []byte(s.jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
