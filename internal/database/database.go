package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/players"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the database backend.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open establishes the configured connection and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(options.Driver)) {
	case DriverSQLite, "":
		db, err = openSQLite(options.Path)
	case DriverPostgres:
		if strings.TrimSpace(options.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(postgres.Open(options.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("driver", options.Driver),
		zap.String("path", options.Path))
	return db, nil
}

// Migrate creates or updates every table and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&cards.CardRecord{},
		&cards.TabooRecord{},
		&decks.DeckRecord{},
		&campaigns.CampaignRecord{},
		&chaosbag.ResultsRecord{},
		&players.Player{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
