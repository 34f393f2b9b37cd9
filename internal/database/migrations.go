package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const migrationReleaseOrphanedDeckSuccessors = "2026-09-14_release_orphaned_deck_successors"

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
		{name: migrationReleaseOrphanedDeckSuccessors, apply: releaseOrphanedDeckSuccessors},
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
		if err := db.Transaction(migration.apply); err != nil {
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

// releaseOrphanedDeckSuccessors clears next_deck on decks whose successor row is
// missing, so they become current again and accept edits.
func releaseOrphanedDeckSuccessors(db *gorm.DB) error {
	var orphaned []decks.DeckRecord
	err := db.
		Where("next_deck <> '' AND next_deck NOT IN (?)", db.Model(&decks.DeckRecord{}).Select("id")).
		Find(&orphaned).Error
	if err != nil {
		return err
	}
	for _, record := range orphaned {
		deck := record.Snapshot.Data()
		deck.NextDeck = ""
		record.NextDeck = ""
		record.Snapshot = datatypes.NewJSONType(deck)
		if err := db.Save(&record).Error; err != nil {
			return err
		}
	}
	return nil
}
