package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solvereach/remindly-backend/internal/models"
)

// openTestDB opens an in-memory SQLite database with all models migrated.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Enable foreign keys for SQLite (required for cascade delete)
	db.Exec("PRAGMA foreign_keys = ON")

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

// truncateAll clears every table between tests, children first.
func truncateAll(db *gorm.DB) {
	db.Exec("DELETE FROM inbound_attachments")
	db.Exec("DELETE FROM inbound_messages")
	db.Exec("DELETE FROM outbound_messages")
	db.Exec("DELETE FROM send_attempts")
	db.Exec("DELETE FROM reminder_states")
	db.Exec("DELETE FROM queued_emails")
	db.Exec("DELETE FROM connected_accounts")
	db.Exec("DELETE FROM requests")
}
