package cards

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew      = "cards.store.new"
	opImportCards   = "cards.import_cards"
	opImportTaboo   = "cards.import_taboo_sets"
	opLoadCatalog   = "cards.load_catalog"
	opLoadTabooSets = "cards.load_taboo_sets"
	importBatchSize = 200
	reasonMissingDB = "missing_database"
	reasonEncode    = "encode_failed"
	reasonUpsert    = "upsert_failed"
	reasonQuery     = "query_failed"
	reasonDecode    = "decode_failed"
)

var errMissingDatabase = errors.New("database handle is required")

// CardRecord stores one catalog card as its JSON document.
type CardRecord struct {
	Code             string         `gorm:"column:code;primaryKey;size:32;not null"`
	TypeCode         string         `gorm:"column:type_code;size:32;not null;default:'';index"`
	PayloadJSON      datatypes.JSON `gorm:"column:payload_json;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CardRecord) TableName() string {
	return "cards"
}

// TabooRecord stores one taboo set.
type TabooRecord struct {
	TabooID          int            `gorm:"column:taboo_id;primaryKey;autoIncrement:false"`
	Name             string         `gorm:"column:name;size:190;not null;default:''"`
	PayloadJSON      datatypes.JSON `gorm:"column:payload_json;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TabooRecord) TableName() string {
	return "taboo_sets"
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists the card catalog and taboo sets.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opStoreNew, reasonMissingDB, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// ImportCards upserts the cards and returns the number written.
func (s *Store) ImportCards(ctx context.Context, cards []Card) (int, error) {
	if s == nil || s.db == nil {
		return 0, serviceerror.New(opImportCards, reasonMissingDB, errMissingDatabase)
	}
	now := s.clock().UTC().Unix()
	records := make([]CardRecord, 0, len(cards))
	for _, card := range cards {
		if card.Validate() != nil {
			continue
		}
		payload, err := json.Marshal(card)
		if err != nil {
			s.logError(opImportCards, reasonEncode, err, zap.String("code", card.Code))
			return 0, serviceerror.New(opImportCards, reasonEncode, err)
		}
		records = append(records, CardRecord{
			Code:             card.Code,
			TypeCode:         card.TypeCode,
			PayloadJSON:      datatypes.JSON(payload),
			UpdatedAtSeconds: now,
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&records, importBatchSize).Error
	if err != nil {
		s.logError(opImportCards, reasonUpsert, err)
		return 0, serviceerror.New(opImportCards, reasonUpsert, err)
	}
	s.logger.Info("cards imported", zap.Int("count", len(records)))
	return len(records), nil
}

// ImportTabooSets upserts taboo sets.
func (s *Store) ImportTabooSets(ctx context.Context, sets []TabooSet) error {
	if s == nil || s.db == nil {
		return serviceerror.New(opImportTaboo, reasonMissingDB, errMissingDatabase)
	}
	if len(sets) == 0 {
		return nil
	}
	now := s.clock().UTC().Unix()
	records := make([]TabooRecord, 0, len(sets))
	for _, set := range sets {
		payload, err := json.Marshal(set)
		if err != nil {
			s.logError(opImportTaboo, reasonEncode, err, zap.Int("taboo_id", set.ID))
			return serviceerror.New(opImportTaboo, reasonEncode, err)
		}
		records = append(records, TabooRecord{
			TabooID:          set.ID,
			Name:             set.Name,
			PayloadJSON:      datatypes.JSON(payload),
			UpdatedAtSeconds: now,
		})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&records).Error; err != nil {
		s.logError(opImportTaboo, reasonUpsert, err)
		return serviceerror.New(opImportTaboo, reasonUpsert, err)
	}
	return nil
}

// LoadCatalog builds a Catalog from every stored card. Records that fail to decode
// are skipped and logged; a damaged row must not take the catalog down.
func (s *Store) LoadCatalog(ctx context.Context) (*Catalog, error) {
	if s == nil || s.db == nil {
		return nil, serviceerror.New(opLoadCatalog, reasonMissingDB, errMissingDatabase)
	}
	var records []CardRecord
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&records).Error; err != nil {
		s.logError(opLoadCatalog, reasonQuery, err)
		return nil, serviceerror.New(opLoadCatalog, reasonQuery, err)
	}
	cards := make([]Card, 0, len(records))
	for _, record := range records {
		var card Card
		if err := json.Unmarshal(record.PayloadJSON, &card); err != nil {
			s.logger.Warn("skipping undecodable card", zap.String("code", record.Code), zap.Error(err))
			continue
		}
		cards = append(cards, card)
	}
	return NewCatalog(cards), nil
}

// LoadTabooSets returns every stored taboo set ordered by id.
func (s *Store) LoadTabooSets(ctx context.Context) ([]TabooSet, error) {
	if s == nil || s.db == nil {
		return nil, serviceerror.New(opLoadTabooSets, reasonMissingDB, errMissingDatabase)
	}
	var records []TabooRecord
	if err := s.db.WithContext(ctx).Order("taboo_id ASC").Find(&records).Error; err != nil {
		s.logError(opLoadTabooSets, reasonQuery, err)
		return nil, serviceerror.New(opLoadTabooSets, reasonQuery, err)
	}
	sets := make([]TabooSet, 0, len(records))
	for _, record := range records {
		var set TabooSet
		if err := json.Unmarshal(record.PayloadJSON, &set); err != nil {
			s.logError(opLoadTabooSets, reasonDecode, err, zap.Int("taboo_id", record.TabooID))
			return nil, serviceerror.New(opLoadTabooSets, reasonDecode, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cards store error", attrs...)
}
