package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func secureHeadersResponse(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	e.Use(SecureHeaders())
	e.GET("/api/requests", func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSecureHeaders_AllHeadersPresent(t *testing.T) {
	rec := secureHeadersResponse(t, "/api/requests")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, apiCSP, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "geolocation=(), microphone=(), camera=()", rec.Header().Get("Permissions-Policy"))
}

func TestSecureHeaders_LocksDownContentPolicy(t *testing.T) {
	rec := secureHeadersResponse(t, "/api/requests")

	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'none'")
	assert.Contains(t, csp, "frame-ancestors 'none'")
}

func TestSecureHeaders_DisablesLegacyXSSAuditor(t *testing.T) {
	rec := secureHeadersResponse(t, "/api/requests")

	assert.Equal(t, "0", rec.Header().Get("X-XSS-Protection"))
}

func TestSecureHeaders_NoHSTSOverPlainHTTP(t *testing.T) {
	rec := secureHeadersResponse(t, "http://localhost/api/requests")

	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestNoStore_SetsCacheControl(t *testing.T) {
	e := echo.New()
	e.GET("/api/attachments/blob.pdf", func(c echo.Context) error {
		return c.String(http.StatusOK, "bytes")
	}, NoStore)

	req := httptest.NewRequest(http.MethodGet, "/api/attachments/blob.pdf", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
