package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newHealthEnv wires a HealthHandler over sqlmock so ping outcomes can be
// scripted per test.
func newHealthEnv(t *testing.T) (*HealthHandler, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// GORM pings once while opening
	mock.ExpectPing()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewHealthHandler(gormDB), mock
}

func probe(t *testing.T, path string, handle echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handle(e.NewContext(req, rec)))
	return rec
}

func TestHealthHandler_Health_ReportsHealthyDatabase(t *testing.T) {
	handler, mock := newHealthEnv(t)
	mock.ExpectPing()

	rec := probe(t, "/health", handler.Health)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"database":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"ping_ms"`)
}

func TestHealthHandler_Health_DegradesWhenPingFails(t *testing.T) {
	handler, mock := newHealthEnv(t)
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	rec := probe(t, "/health", handler.Health)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"database":"unhealthy"`)
}

func TestHealthHandler_Ready_OKWhenDatabaseReachable(t *testing.T) {
	handler, mock := newHealthEnv(t)
	mock.ExpectPing()

	rec := probe(t, "/ready", handler.Ready)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}

func TestHealthHandler_Ready_UnavailableWhenDatabaseDown(t *testing.T) {
	handler, mock := newHealthEnv(t)
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	rec := probe(t, "/ready", handler.Ready)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"not ready"`)
}
