package cards

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// TypeInvestigator marks investigator cards, the owners of deck-building rules.
	TypeInvestigator = "investigator"
	// SubtypeWeakness marks signature or story weaknesses.
	SubtypeWeakness = "weakness"
	// SubtypeBasicWeakness marks randomly drawn basic weaknesses.
	SubtypeBasicWeakness = "basicweakness"
	// FactionNeutral is the faction shared by every investigator.
	FactionNeutral = "neutral"

	defaultDeckLimit = 2
)

var (
	// ErrInvalidCard indicates that a card record is missing its code.
	ErrInvalidCard = errors.New("cards: invalid card")

	usesPattern = regexp.MustCompile(`(?i)Uses \((?:\d+|X)\s+([a-z]+)`)
)

// Card is an immutable catalog entry.
type Card struct {
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	FactionCode      string            `json:"faction_code,omitempty"`
	Faction2Code     string            `json:"faction2_code,omitempty"`
	TypeCode         string            `json:"type_code,omitempty"`
	SubtypeCode      string            `json:"subtype_code,omitempty"`
	PackCode         string            `json:"pack_code,omitempty"`
	TraitsText       string            `json:"traits,omitempty"`
	Text             string            `json:"text,omitempty"`
	XP               *int              `json:"xp,omitempty"`
	IsUnique         bool              `json:"is_unique,omitempty"`
	Permanent        bool              `json:"permanent,omitempty"`
	Exile            bool              `json:"exile,omitempty"`
	Exceptional      bool              `json:"exceptional,omitempty"`
	DeckLimitValue   *int              `json:"deck_limit,omitempty"`
	Restrictions     *Restrictions     `json:"restrictions,omitempty"`
	DeckRequirements *DeckRequirements `json:"deck_requirements,omitempty"`
	DeckOptions      []DeckOption      `json:"deck_options,omitempty"`
	LinkedCard       *Card             `json:"linked_card,omitempty"`
}

// Restrictions binds a card to specific investigators (signature cards).
type Restrictions struct {
	Investigators map[string]string `json:"investigator,omitempty"`
}

// Validate reports whether the card carries the fields the catalog indexes on.
func (c Card) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidCard)
	}
	return nil
}

// Level returns the experience cost, treating a missing value as level 0.
func (c Card) Level() int {
	if c.XP == nil {
		return 0
	}
	return *c.XP
}

// DeckLimit returns the maximum number of copies allowed in a deck.
func (c Card) DeckLimit() int {
	if c.IsUnique {
		return 1
	}
	if c.DeckLimitValue == nil {
		return defaultDeckLimit
	}
	return *c.DeckLimitValue
}

// Traits splits the dotted trait line ("Item. Tool.") into individual traits.
func (c Card) Traits() []string {
	parts := strings.Split(c.TraitsText, ".")
	traits := make([]string, 0, len(parts))
	for _, part := range parts {
		trait := strings.TrimSpace(part)
		if trait != "" {
			traits = append(traits, trait)
		}
	}
	return traits
}

// Uses returns the kinds of uses ("charges", "ammo", ...) printed on the card.
func (c Card) Uses() []string {
	matches := usesPattern.FindAllStringSubmatch(c.Text, -1)
	uses := make([]string, 0, len(matches))
	for _, match := range matches {
		uses = append(uses, strings.ToLower(match[1]))
	}
	return uses
}

// Factions lists the card factions, including the secondary faction of multi-class cards.
func (c Card) Factions() []string {
	factions := make([]string, 0, 2)
	if c.FactionCode != "" {
		factions = append(factions, c.FactionCode)
	}
	if c.Faction2Code != "" {
		factions = append(factions, c.Faction2Code)
	}
	return factions
}

// IsWeakness reports whether the card is a signature or basic weakness.
func (c Card) IsWeakness() bool {
	return c.SubtypeCode == SubtypeWeakness || c.SubtypeCode == SubtypeBasicWeakness
}

// IsInvestigator reports whether the card carries deck-building rules.
func (c Card) IsInvestigator() bool {
	return c.TypeCode == TypeInvestigator
}

// RestrictedTo reports whether the card is bound to the given investigator.
func (c Card) RestrictedTo(investigatorCode string) bool {
	if c.Restrictions == nil || investigatorCode == "" {
		return false
	}
	_, ok := c.Restrictions.Investigators[investigatorCode]
	return ok
}

// CardRequirement names a required card and the codes accepted in its place.
type CardRequirement struct {
	Code       string
	Alternates []string
	Quantity   int
}

// RequiredQuantity returns the number of copies demanded, defaulting to one.
func (r CardRequirement) RequiredQuantity() int {
	if r.Quantity <= 0 {
		return 1
	}
	return r.Quantity
}

// RandomRequirement asks for cards matching a catalog attribute, drawn at the table.
type RandomRequirement struct {
	Target string `json:"target"`
	Value  string `json:"value"`
	Count  int    `json:"count,omitempty"`
}

// RequiredCount returns the number of matching cards demanded, defaulting to one.
func (r RandomRequirement) RequiredCount() int {
	if r.Count <= 0 {
		return 1
	}
	return r.Count
}

// DeckRequirements lists the fixed contents and size of an investigator deck.
type DeckRequirements struct {
	Size   int
	Cards  []CardRequirement
	Random []RandomRequirement
}

type deckRequirementsDocument struct {
	Size     int                          `json:"size"`
	Card     map[string]map[string]string `json:"card,omitempty"`
	Quantity map[string]int               `json:"quantity,omitempty"`
	Random   []RandomRequirement          `json:"random,omitempty"`
}

// UnmarshalJSON decodes the code -> {alternate codes} shape used by card data dumps.
func (r *DeckRequirements) UnmarshalJSON(data []byte) error {
	var document deckRequirementsDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return err
	}

	codes := make([]string, 0, len(document.Card))
	for code := range document.Card {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	requirements := make([]CardRequirement, 0, len(codes))
	for _, code := range codes {
		alternates := make([]string, 0, len(document.Card[code]))
		for altCode := range document.Card[code] {
			if altCode != code {
				alternates = append(alternates, altCode)
			}
		}
		sort.Strings(alternates)
		requirements = append(requirements, CardRequirement{
			Code:       code,
			Alternates: alternates,
			Quantity:   document.Quantity[code],
		})
	}

	*r = DeckRequirements{
		Size:   document.Size,
		Cards:  requirements,
		Random: document.Random,
	}
	return nil
}

// MarshalJSON encodes requirements back into the data dump shape.
func (r DeckRequirements) MarshalJSON() ([]byte, error) {
	document := deckRequirementsDocument{
		Size:   r.Size,
		Random: r.Random,
	}
	if len(r.Cards) > 0 {
		document.Card = make(map[string]map[string]string, len(r.Cards))
	}
	for _, requirement := range r.Cards {
		codes := map[string]string{requirement.Code: requirement.Code}
		for _, alternate := range requirement.Alternates {
			codes[alternate] = alternate
		}
		document.Card[requirement.Code] = codes
		if requirement.Quantity > 1 {
			if document.Quantity == nil {
				document.Quantity = make(map[string]int)
			}
			document.Quantity[requirement.Code] = requirement.Quantity
		}
	}
	return json.Marshal(document)
}

// LevelRange bounds the experience of cards governed by an option.
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether xp falls inside the inclusive range.
func (l LevelRange) Contains(xp int) bool {
	return xp >= l.Min && xp <= l.Max
}

// AtLeast demands a minimum number of cards from a minimum number of factions.
type AtLeast struct {
	Factions int `json:"factions"`
	Min      int `json:"min"`
}

// DeckOption is one rule of an investigator's ordered deck-building list.
type DeckOption struct {
	Faction        []string    `json:"faction,omitempty"`
	Trait          []string    `json:"trait,omitempty"`
	Uses           []string    `json:"uses,omitempty"`
	Not            bool        `json:"not,omitempty"`
	Limit          *int        `json:"limit,omitempty"`
	Error          string      `json:"error,omitempty"`
	Level          *LevelRange `json:"level,omitempty"`
	AtLeast        *AtLeast    `json:"atleast,omitempty"`
	DeckSizeAdjust int         `json:"deck_size_adjust,omitempty"`
}

// Matches reports whether the option filter selects the card. Every populated
// filter dimension must match; an option without filters selects every card.
func (o DeckOption) Matches(card Card) bool {
	if len(o.Faction) > 0 && !containsAnyFold(o.Faction, card.Factions()) {
		return false
	}
	if len(o.Trait) > 0 && !containsAnyFold(o.Trait, card.Traits()) {
		return false
	}
	if len(o.Uses) > 0 && !containsAnyFold(o.Uses, card.Uses()) {
		return false
	}
	return true
}

func containsAnyFold(allowed []string, values []string) bool {
	for _, value := range values {
		for _, candidate := range allowed {
			if strings.EqualFold(strings.TrimSpace(candidate), value) {
				return true
			}
		}
	}
	return false
}
