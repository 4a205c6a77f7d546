package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTAuth_RejectsMissingSecret(t *testing.T) {
	s := &Server{jwtSecret: ""}
	handler := s.jwtAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/status", nil)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJWTAuth_RejectsMissingToken(t *testing.T) {
	s := &Server{jwtSecret: "secret"}
	handler := s.jwtAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/status", nil)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_RejectsWrongSecret(t *testing.T) {
	s := &Server{jwtSecret: "secret"}
	handler := s.jwtAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, "other", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuth_AcceptsValidToken(t *testing.T) {
	s := &Server{jwtSecret: "secret"}
	called := false
	handler := s.jwtAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, "secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestJWTAuth_RejectsExpiredToken(t *testing.T) {
	s := &Server{jwtSecret: "secret"}
	handler := s.jwtAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, "secret", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/system/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
