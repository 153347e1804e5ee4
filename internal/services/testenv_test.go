package services

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	applogger "github.com/solvereach/remindly-backend/internal/logger"
	"github.com/solvereach/remindly-backend/internal/models"
)

// openTestDB opens an in-memory SQLite database with all models migrated.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	db.Exec("PRAGMA foreign_keys = ON")

	// Every pooled connection would get its own :memory: database; pin the
	// pool to one so concurrent goroutines share the migrated schema.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Request{},
		&models.OutboundMessage{},
		&models.InboundMessage{},
		&models.InboundAttachment{},
		&models.SendAttempt{},
		&models.ReminderState{},
		&models.ConnectedAccount{},
		&models.QueuedEmail{},
	)
	require.NoError(t, err)

	return db
}

// quietMailLogger returns a MailLogger whose output is discarded.
func quietMailLogger() *applogger.MailLogger {
	return applogger.NewMailLoggerWithHandler(slog.NewTextHandler(io.Discard, nil))
}
