package cards

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openStoreDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cards.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&CardRecord{}, &TabooRecord{}); err != nil {
		t.Fatalf("failed to migrate card schema: %v", err)
	}
	return db
}

func mustStore(t *testing.T, db *gorm.DB, logger *zap.Logger) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	code, ok := serviceerror.CodeOf(err)
	if !ok || code != "cards.store.new.missing_database" {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestStoreImportAndLoadCatalog(t *testing.T) {
	db := openStoreDatabase(t)
	store := mustStore(t, db, nil)
	ctx := context.Background()

	written, err := store.ImportCards(ctx, append(sampleCards(), Card{Name: "no code"}))
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if written != 5 {
		t.Fatalf("expected 5 cards written, got %d", written)
	}

	// re-importing upserts rather than duplicating.
	renamed := sampleCards()[1]
	renamed.Name = ".45 Automatic (Revised)"
	if _, err := store.ImportCards(ctx, []Card{renamed}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	catalog, err := store.LoadCatalog(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if catalog.Len() != 6 {
		t.Fatalf("expected 6 catalog entries, got %d", catalog.Len())
	}
	automatic, ok := catalog.Lookup("01016")
	if !ok || automatic.Name != ".45 Automatic (Revised)" {
		t.Fatalf("expected upserted card, got %#v", automatic)
	}
	vigilant, _ := catalog.Lookup("02029")
	if vigilant.Level() != 1 {
		t.Fatalf("expected xp to survive storage, got %d", vigilant.Level())
	}
}

func TestStoreSkipsUndecodableCards(t *testing.T) {
	db := openStoreDatabase(t)
	core, logs := observer.New(zap.WarnLevel)
	store := mustStore(t, db, zap.New(core))

	broken := CardRecord{Code: "bad", PayloadJSON: datatypes.JSON(`"not a card"`), UpdatedAtSeconds: 1}
	if err := db.Create(&broken).Error; err != nil {
		t.Fatalf("failed to seed broken record: %v", err)
	}
	if _, err := store.ImportCards(context.Background(), sampleCards()[:1]); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	catalog, err := store.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := catalog.Lookup("bad"); ok {
		t.Fatalf("expected broken record to be skipped")
	}
	if catalog.Len() != 2 {
		t.Fatalf("expected investigator and linked card, got %d", catalog.Len())
	}
	if logs.FilterMessage("skipping undecodable card").Len() != 1 {
		t.Fatalf("expected a warning for the skipped record")
	}
}

func TestStoreTabooSetsAndRegistryReload(t *testing.T) {
	db := openStoreDatabase(t)
	store := mustStore(t, db, nil)
	ctx := context.Background()

	if _, err := store.ImportCards(ctx, sampleCards()); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	sets := []TabooSet{{ID: 3, Name: "List 3", Cards: []TabooEntry{{Code: "02029", XP: intPtr(1)}}}}
	if err := store.ImportTabooSets(ctx, sets); err != nil {
		t.Fatalf("taboo import failed: %v", err)
	}

	registry := NewRegistry(nil, nil)
	if err := registry.Reload(ctx, store); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	vigilant, ok := registry.CatalogFor(3).Lookup("02029")
	if !ok || vigilant.Level() != 2 {
		t.Fatalf("expected taboo xp 2, got %#v", vigilant)
	}
}
