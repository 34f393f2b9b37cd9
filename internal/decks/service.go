package decks

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/identifiers"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDeckNotFound indicates the deck does not exist for the owner.
	ErrDeckNotFound = errors.New("decks: deck not found")
	// ErrVersionConflict indicates the caller edited a stale snapshot.
	ErrVersionConflict = errors.New("decks: version conflict")
	// ErrAlreadyUpgraded indicates the deck already has a successor.
	ErrAlreadyUpgraded = errors.New("decks: deck already upgraded")
	// ErrInvalidDeck indicates a request without the fields a deck needs.
	ErrInvalidDeck = errors.New("decks: invalid deck")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingCatalogs   = errors.New("catalog provider is required")
	errMissingIDProvider = errors.New("id provider is required")

	tracer = otel.Tracer("github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks")
)

const (
	opServiceNew = "decks.service.new"
	opCreate     = "decks.create"
	opGet        = "decks.get"
	opList       = "decks.list"
	opUpdate     = "decks.update"
	opUpgrade    = "decks.upgrade"
	opHistory    = "decks.history"

	maxHistoryDepth = 256
)

// DeckRecord persists one deck snapshot. Indexed columns mirror the snapshot so
// chains and owners can be queried without decoding it.
type DeckRecord struct {
	ID               string                   `gorm:"column:id;primaryKey;size:64;not null"`
	OwnerID          string                   `gorm:"column:owner_id;size:190;not null;index"`
	InvestigatorCode string                   `gorm:"column:investigator_code;size:32;not null"`
	Version          string                   `gorm:"column:version;size:32;not null"`
	PreviousDeck     string                   `gorm:"column:previous_deck;size:64;not null;default:''"`
	NextDeck         string                   `gorm:"column:next_deck;size:64;not null;default:'';index"`
	Problem          string                   `gorm:"column:problem;size:64;not null;default:''"`
	Snapshot         datatypes.JSONType[Deck] `gorm:"column:snapshot_json;not null"`
	CreatedAtSeconds int64                    `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64                    `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DeckRecord) TableName() string {
	return "decks"
}

func newDeckRecord(deck Deck) DeckRecord {
	return DeckRecord{
		ID:               deck.ID,
		OwnerID:          deck.OwnerID,
		InvestigatorCode: deck.InvestigatorCode,
		Version:          deck.Version.String(),
		PreviousDeck:     deck.PreviousDeck,
		NextDeck:         deck.NextDeck,
		Problem:          deck.Problem,
		Snapshot:         datatypes.NewJSONType(deck),
		CreatedAtSeconds: deck.CreatedAt.Unix(),
		UpdatedAtSeconds: deck.UpdatedAt.Unix(),
	}
}

// CatalogProvider resolves the catalog view for a taboo set.
type CatalogProvider interface {
	CatalogFor(tabooID int) *cards.Catalog
}

// ServiceConfig describes the dependencies of the deck service.
type ServiceConfig struct {
	Database   *gorm.DB
	Catalogs   CatalogProvider
	IDProvider identifiers.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service stores deck snapshots and revalidates them on every write.
type Service struct {
	db         *gorm.DB
	catalogs   CatalogProvider
	idProvider identifiers.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Catalogs == nil {
		return nil, serviceerror.New(opServiceNew, "missing_catalogs", errMissingCatalogs)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		catalogs:   cfg.Catalogs,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateRequest carries the content of a new deck.
type CreateRequest struct {
	Name                 string            `json:"name"`
	InvestigatorCode     string            `json:"investigator_code"`
	Slots                Slots             `json:"slots"`
	IgnoreDeckLimitSlots Slots             `json:"ignore_deck_limit_slots"`
	TabooID              int               `json:"taboo_id"`
	Meta                 map[string]string `json:"meta"`
	Description          string            `json:"description"`
}

// Saved is a stored deck together with the validation computed for it.
type Saved struct {
	Deck       Deck   `json:"deck"`
	Validation Result `json:"validation"`
}

// Validate checks a deck against the catalog view of its taboo set.
func (s *Service) Validate(deck Deck) Result {
	catalog := s.catalogs.CatalogFor(deck.TabooID)
	return Validate(InputForInvestigator(catalog, deck.InvestigatorCode, deck.Slots, deck.IgnoreDeckLimitSlots))
}

func (s *Service) revalidate(deck Deck) (Deck, Result) {
	result := s.Validate(deck)
	if kind, blocking := result.FirstBlocking(); blocking {
		deck.Problem = string(kind)
	} else {
		deck.Problem = ""
	}
	return deck, result
}

// Create stores a new deck at the initial version.
func (s *Service) Create(ctx context.Context, ownerID string, request CreateRequest) (Saved, error) {
	ctx, span := tracer.Start(ctx, opCreate)
	defer span.End()

	if ownerID == "" || request.InvestigatorCode == "" {
		return Saved{}, serviceerror.New(opCreate, "invalid_request", ErrInvalidDeck)
	}
	deckID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Saved{}, serviceerror.New(opCreate, "id_generation_failed", err)
	}

	deck := NewLocalDeck(NewDeckParams{
		ID:                   deckID,
		OwnerID:              ownerID,
		Name:                 request.Name,
		InvestigatorCode:     request.InvestigatorCode,
		Slots:                request.Slots,
		IgnoreDeckLimitSlots: request.IgnoreDeckLimitSlots,
		TabooID:              request.TabooID,
		Meta:                 request.Meta,
		Description:          request.Description,
	}, s.clock())
	deck, result := s.revalidate(deck)

	record := newDeckRecord(deck)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("deck_id", deck.ID))
		recordSpanError(span, err)
		return Saved{}, serviceerror.New(opCreate, "insert_failed", err)
	}
	span.SetAttributes(attribute.String("deck.id", deck.ID), attribute.Bool("deck.valid", result.Valid))
	return Saved{Deck: deck, Validation: result}, nil
}

// Get returns the deck owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, deckID string) (Deck, error) {
	ctx, span := tracer.Start(ctx, opGet)
	defer span.End()

	record, err := s.load(s.db.WithContext(ctx), ownerID, deckID, false)
	if err != nil {
		return Deck{}, s.wrapLoadError(opGet, deckID, err)
	}
	return record.Snapshot.Data(), nil
}

// List returns the owner's current decks, those without a successor, most
// recently updated first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Deck, error) {
	ctx, span := tracer.Start(ctx, opList)
	defer span.End()

	var records []DeckRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND next_deck = ''", ownerID).
		Order("updated_at_s DESC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		recordSpanError(span, err)
		return nil, serviceerror.New(opList, "query_failed", err)
	}
	decks := make([]Deck, 0, len(records))
	for _, record := range records {
		decks = append(decks, record.Snapshot.Data())
	}
	return decks, nil
}

// Update replaces the deck content when expected matches the stored version.
func (s *Service) Update(ctx context.Context, ownerID, deckID string, expected Version, edit DeckEdit) (Saved, error) {
	ctx, span := tracer.Start(ctx, opUpdate)
	defer span.End()

	var saved Saved
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, ownerID, deckID, true)
		if err != nil {
			return s.wrapLoadError(opUpdate, deckID, err)
		}
		current := record.Snapshot.Data()
		if current.Version != expected {
			s.logger.Info("deck update rejected",
				zap.String("deck_id", deckID),
				zap.String("expected_version", expected.String()),
				zap.String("current_version", current.Version.String()))
			return serviceerror.New(opUpdate, "version_conflict", ErrVersionConflict)
		}
		if current.NextDeck != "" {
			return serviceerror.New(opUpdate, "already_upgraded", ErrAlreadyUpgraded)
		}

		updated, result := s.revalidate(UpdateLocalDeck(current, edit, s.clock()))
		next := newDeckRecord(updated)
		if err := tx.Save(&next).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, zap.String("deck_id", deckID))
			return serviceerror.New(opUpdate, "save_failed", err)
		}
		saved = Saved{Deck: updated, Validation: result}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return Saved{}, err
	}
	return saved, nil
}

// UpgradeRequest carries the inputs of a deck upgrade.
type UpgradeRequest struct {
	XP     int      `json:"xp"`
	Exiles []string `json:"exiles"`
}

// UpgradeOutcome holds the retired deck and its validated successor.
type UpgradeOutcome struct {
	Deck       Deck   `json:"deck"`
	Upgraded   Deck   `json:"upgraded_deck"`
	Validation Result `json:"validation"`
}

// Upgrade creates the successor of a deck and links both snapshots atomically.
func (s *Service) Upgrade(ctx context.Context, ownerID, deckID string, request UpgradeRequest) (UpgradeOutcome, error) {
	ctx, span := tracer.Start(ctx, opUpgrade)
	defer span.End()

	var outcome UpgradeOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, ownerID, deckID, true)
		if err != nil {
			return s.wrapLoadError(opUpgrade, deckID, err)
		}
		current := record.Snapshot.Data()
		if current.NextDeck != "" {
			return serviceerror.New(opUpgrade, "already_upgraded", ErrAlreadyUpgraded)
		}
		newID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opUpgrade, "id_generation_failed", err)
			return serviceerror.New(opUpgrade, "id_generation_failed", err)
		}

		result := UpgradeLocalDeck(newID, current, request.XP, request.Exiles, s.clock())
		lifecycleProblem := result.Upgraded.Problem
		upgraded, validation := s.revalidate(result.Upgraded)
		if upgraded.Problem == "" {
			upgraded.Problem = lifecycleProblem
		}

		retired := newDeckRecord(result.Deck)
		if err := tx.Save(&retired).Error; err != nil {
			s.logError(opUpgrade, "save_failed", err, zap.String("deck_id", deckID))
			return serviceerror.New(opUpgrade, "save_failed", err)
		}
		successor := newDeckRecord(upgraded)
		if err := tx.Create(&successor).Error; err != nil {
			s.logError(opUpgrade, "insert_failed", err, zap.String("deck_id", newID))
			return serviceerror.New(opUpgrade, "insert_failed", err)
		}
		outcome = UpgradeOutcome{Deck: result.Deck, Upgraded: upgraded, Validation: validation}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return UpgradeOutcome{}, err
	}
	return outcome, nil
}

// History walks the previous_deck chain from the given deck, newest first.
func (s *Service) History(ctx context.Context, ownerID, deckID string) ([]Deck, error) {
	ctx, span := tracer.Start(ctx, opHistory)
	defer span.End()

	db := s.db.WithContext(ctx)
	var history []Deck
	seen := make(map[string]bool)
	for nextID := deckID; nextID != "" && !seen[nextID] && len(history) < maxHistoryDepth; {
		seen[nextID] = true
		record, err := s.load(db, ownerID, nextID, false)
		if err != nil {
			if len(history) > 0 && errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, s.wrapLoadError(opHistory, nextID, err)
		}
		deck := record.Snapshot.Data()
		history = append(history, deck)
		nextID = deck.PreviousDeck
	}
	return history, nil
}

func (s *Service) load(db *gorm.DB, ownerID, deckID string, lock bool) (DeckRecord, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record DeckRecord
	err := query.Where("id = ? AND owner_id = ?", deckID, ownerID).Take(&record).Error
	return record, err
}

func (s *Service) wrapLoadError(operation, deckID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return serviceerror.New(operation, "not_found", ErrDeckNotFound)
	}
	s.logError(operation, "select_failed", err, zap.String("deck_id", deckID))
	return serviceerror.New(operation, "select_failed", err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("decks service error", attrs...)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
