package cards

import (
	"sort"
	"strings"
)

// Source is the read-only view of the catalog consumed by deck validation.
type Source interface {
	Lookup(code string) (Card, bool)
	CountMatching(target, value string) int
}

// Catalog indexes cards by code. A Catalog is never mutated after construction,
// so it may be shared between goroutines.
type Catalog struct {
	cards   map[string]Card
	codes   []string
	tabooID int
}

// NewCatalog indexes the provided cards. Linked cards are registered under their
// own code; cards without a code are skipped. Later duplicates replace earlier ones.
func NewCatalog(cards []Card) *Catalog {
	index := make(map[string]Card, len(cards))
	for _, card := range cards {
		register(index, card)
	}
	return newCatalogFromIndex(index, 0)
}

func register(index map[string]Card, card Card) {
	if card.Validate() != nil {
		return
	}
	index[card.Code] = card
	if card.LinkedCard != nil {
		register(index, *card.LinkedCard)
	}
}

func newCatalogFromIndex(index map[string]Card, tabooID int) *Catalog {
	codes := make([]string, 0, len(index))
	for code := range index {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return &Catalog{cards: index, codes: codes, tabooID: tabooID}
}

// Lookup resolves a card by code.
func (c *Catalog) Lookup(code string) (Card, bool) {
	if c == nil {
		return Card{}, false
	}
	card, ok := c.cards[strings.TrimSpace(code)]
	return card, ok
}

// Len returns the number of indexed cards.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.cards)
}

// TabooID returns the taboo set applied to this view, or zero for the base catalog.
func (c *Catalog) TabooID() int {
	if c == nil {
		return 0
	}
	return c.tabooID
}

// Cards returns every card ordered by code.
func (c *Catalog) Cards() []Card {
	if c == nil {
		return nil
	}
	result := make([]Card, 0, len(c.codes))
	for _, code := range c.codes {
		result = append(result, c.cards[code])
	}
	return result
}

// Investigators returns the investigator cards ordered by code.
func (c *Catalog) Investigators() []Card {
	var investigators []Card
	for _, card := range c.Cards() {
		if card.IsInvestigator() {
			investigators = append(investigators, card)
		}
	}
	return investigators
}

// CountMatching counts catalog cards whose target attribute equals value.
// Supported targets are subtype, type, faction and trait; anything else matches nothing.
func (c *Catalog) CountMatching(target, value string) int {
	if c == nil {
		return 0
	}
	count := 0
	for _, code := range c.codes {
		if matchesTarget(c.cards[code], target, value) {
			count++
		}
	}
	return count
}

func matchesTarget(card Card, target, value string) bool {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "subtype":
		return strings.EqualFold(card.SubtypeCode, value)
	case "type":
		return strings.EqualFold(card.TypeCode, value)
	case "faction":
		return containsAnyFold([]string{value}, card.Factions())
	case "trait":
		return containsAnyFold([]string{value}, card.Traits())
	default:
		return false
	}
}

// WithTaboo returns a view of the catalog with the taboo overrides applied.
// The receiver is left untouched.
func (c *Catalog) WithTaboo(set TabooSet) *Catalog {
	if c == nil {
		return NewCatalog(nil)
	}
	index := make(map[string]Card, len(c.cards))
	for code, card := range c.cards {
		index[code] = card
	}
	for _, override := range set.Cards {
		card, ok := index[override.Code]
		if !ok {
			continue
		}
		index[override.Code] = override.apply(card)
	}
	return newCatalogFromIndex(index, set.ID)
}
