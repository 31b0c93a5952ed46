package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quill/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNullEmptyExternalIDs = "2026-10-01_null_empty_external_ids"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNullEmptyExternalIDs, apply: nullEmptyExternalIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// nullEmptyExternalIDs rewrites '' provider ids to NULL. Unique indexes treat NULLs as
// distinct, so only NULL expresses "not linked".
func nullEmptyExternalIDs(db *gorm.DB) error {
	if !db.Migrator().HasTable(&users.User{}) {
		return nil
	}
	for _, column := range []string{"google_id", "github_id", "apple_id"} {
		err := db.Model(&users.User{}).
			Where(column+" = ?", "").
			Update(column, gorm.Expr("NULL")).Error
		if err != nil {
			return err
		}
	}
	return nil
}
