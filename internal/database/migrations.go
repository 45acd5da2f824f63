package database

import (
	"errors"
	"time"

	"github.com/fieldsetapp/fieldset/backend/internal/forms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillPrivacyTier  = "2026-07-02_backfill_privacy_tier"
	migrationBackfillAllowedLists = "2026-07-02_backfill_allowed_email_lists"
)

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
		{name: migrationBackfillPrivacyTier, apply: backfillPrivacyTier},
		{name: migrationBackfillAllowedLists, apply: backfillAllowedEmailLists},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported from before privacy tiers existed carry an empty tier and
// must default to public, the behavior they had at the time.
func backfillPrivacyTier(db *gorm.DB) error {
	return db.Model(&forms.FormDefinition{}).
		Where("privacy_tier = ''").
		Update("privacy_tier", string(forms.PrivacyTierPublic)).Error
}

func backfillAllowedEmailLists(db *gorm.DB) error {
	return db.Model(&forms.FormDefinition{}).
		Where("allowed_emails_json = ''").
		Update("allowed_emails_json", "[]").Error
}
