package cards

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry publishes the current catalog. Readers always see a complete snapshot;
// Replace swaps the snapshot wholesale after a data update.
type Registry struct {
	snapshot atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	base   *Catalog
	taboos map[int]TabooSet
	views  sync.Map
}

// NewRegistry returns a registry serving the given catalog and taboo sets.
func NewRegistry(catalog *Catalog, taboos []TabooSet) *Registry {
	registry := &Registry{}
	registry.Replace(catalog, taboos)
	return registry
}

// Replace installs a new catalog snapshot.
func (r *Registry) Replace(catalog *Catalog, taboos []TabooSet) {
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	index := make(map[int]TabooSet, len(taboos))
	for _, set := range taboos {
		index[set.ID] = set
	}
	r.snapshot.Store(&registrySnapshot{base: catalog, taboos: index})
}

// Reload rebuilds the snapshot from the store.
func (r *Registry) Reload(ctx context.Context, store *Store) error {
	catalog, err := store.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	taboos, err := store.LoadTabooSets(ctx)
	if err != nil {
		return err
	}
	r.Replace(catalog, taboos)
	return nil
}

// Catalog returns the base catalog.
func (r *Registry) Catalog() *Catalog {
	return r.snapshot.Load().base
}

// CatalogFor returns the catalog view for a taboo set. Unknown or zero taboo ids
// fall back to the base catalog.
func (r *Registry) CatalogFor(tabooID int) *Catalog {
	current := r.snapshot.Load()
	if tabooID <= 0 {
		return current.base
	}
	if view, ok := current.views.Load(tabooID); ok {
		return view.(*Catalog)
	}
	set, ok := current.taboos[tabooID]
	if !ok {
		return current.base
	}
	view, _ := current.views.LoadOrStore(tabooID, current.base.WithTaboo(set))
	return view.(*Catalog)
}
