package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func authContext(t *testing.T, path string, configure func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if configure != nil {
		configure(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	return c, rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "success")
}

func TestAPIKeyAuth_MissingCredentials(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	c, _ := authContext(t, "/api/requests", nil)

	err := APIKeyAuth(nil)(okHandler)(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAPIKeyAuth_WrongBearerToken(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	c, _ := authContext(t, "/api/requests", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer wrong-key")
	})

	err := APIKeyAuth(nil)(okHandler)(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAPIKeyAuth_ValidBearerToken(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	c, rec := authContext(t, "/api/requests", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer test-api-key")
	})

	err := APIKeyAuth(nil)(okHandler)(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_ValidXAPIKeyHeader(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	// Webhook senders often can only set custom headers, not Authorization.
	c, rec := authContext(t, "/api/webhooks/inbound", func(req *http.Request) {
		req.Header.Set("X-API-Key", "test-api-key")
	})

	err := APIKeyAuth(nil)(okHandler)(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuth_WrongXAPIKeyHeader(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	c, _ := authContext(t, "/api/webhooks/inbound", func(req *http.Request) {
		req.Header.Set("X-API-Key", "wrong-key")
	})

	err := APIKeyAuth(nil)(okHandler)(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestAPIKeyAuth_HealthProbesSkipAuth(t *testing.T) {
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	for _, path := range []string{"/health", "/ready"} {
		c, rec := authContext(t, path, nil)

		err := APIKeyAuth(nil)(okHandler)(c)

		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAPIKeyAuth_DisabledWhenUnconfigured(t *testing.T) {
	os.Unsetenv("API_KEY")

	c, rec := authContext(t, "/api/requests", nil)

	err := APIKeyAuth(nil)(okHandler)(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}
