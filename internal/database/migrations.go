package database

import (
	"errors"
	"time"

	"github.com/risalo/backend/internal/interactions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillCoupletSlugs     = "2026-05-12_backfill_couplet_slugs"
	migrationRemoveOrphanInteractions = "2026-06-30_remove_orphan_interactions"
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
		{name: migrationBackfillCoupletSlugs, apply: backfillCoupletSlugs},
		{name: migrationRemoveOrphanInteractions, apply: removeOrphanInteractions},
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

// backfillCoupletSlugs gives legacy rows imported without a slug a stable
// one derived from the couplet id, since the slug is the cache tag.
func backfillCoupletSlugs(db *gorm.DB) error {
	return db.Model(&interactions.Couplet{}).
		Where("slug = ''").
		Update("slug", gorm.Expr("couplet_id")).Error
}

// removeOrphanInteractions drops like/bookmark rows whose couplet was
// deleted from the catalog.
func removeOrphanInteractions(db *gorm.DB) error {
	if err := db.Exec(
		"DELETE FROM couplet_likes WHERE entity_id NOT IN (SELECT couplet_id FROM couplets);",
	).Error; err != nil {
		return err
	}
	return db.Exec(
		"DELETE FROM couplet_bookmarks WHERE entity_id NOT IN (SELECT couplet_id FROM couplets);",
	).Error
}
