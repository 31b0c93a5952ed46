package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNullsEmptyExternalIDs(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	// Legacy schema without the unique provider indexes.
	if err := database.Exec(`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT,
		password_hash TEXT,
		google_id TEXT,
		github_id TEXT,
		apple_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`).Error; err != nil {
		testContext.Fatalf("failed to create legacy table: %v", err)
	}
	if err := database.AutoMigrate(&migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"user-1", "user-2"} {
		err := database.Exec(
			"INSERT INTO users (id, handle, first_name, google_id, github_id, apple_id, created_at, updated_at) VALUES (?, ?, ?, '', '', ?, ?, ?)",
			id, id+"@example.com", "Ada", "apple-"+id, now, now,
		).Error
		if err != nil {
			testContext.Fatalf("failed to insert legacy row: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored []users.User
	if err := database.Order("id").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload users: %v", err)
	}
	if len(stored) != 2 {
		testContext.Fatalf("expected 2 users, got %d", len(stored))
	}
	for _, user := range stored {
		if user.GoogleID != nil || user.GitHubID != nil {
			testContext.Fatalf("expected empty provider ids to become NULL for %s", user.ID)
		}
		if user.AppleID == nil || *user.AppleID != "apple-"+user.ID {
			testContext.Fatalf("expected linked apple id to survive for %s", user.ID)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNullEmptyExternalIDs).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-running migrations to be a no-op: %v", err)
	}
	var count int64
	database.Model(&migrationRecord{}).Count(&count)
	if count != 1 {
		testContext.Fatalf("expected a single migration record, got %d", count)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "quill.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	for _, model := range []any{&users.User{}, &posts.Post{}, &posts.Like{}, &migrationRecord{}} {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
	if !database.Migrator().HasIndex(&users.User{}, "idx_users_handle") {
		testContext.Fatalf("expected unique handle index")
	}

	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
	if _, err := OpenPostgres("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected empty dsn to be rejected")
	}
}
