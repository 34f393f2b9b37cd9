package decks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidVersion indicates a malformed "major.minor" deck version.
var ErrInvalidVersion = errors.New("decks: invalid version")

// Version is the "major.minor" revision of a deck. Edits bump the minor part and
// upgrades bump the major part.
type Version struct {
	Major int
	Minor int
}

// InitialVersion is the version of a freshly created deck.
var InitialVersion = Version{Major: 0, Minor: 1}

// ParseVersion parses "major.minor". An empty string yields InitialVersion.
func ParseVersion(raw string) (Version, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return InitialVersion, nil
	}
	majorText, minorText, found := strings.Cut(trimmed, ".")
	if !found {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	major, err := strconv.Atoi(majorText)
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	minor, err := strconv.Atoi(minorText)
	if err != nil || minor < 0 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	return Version{Major: major, Minor: minor}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less reports whether v precedes other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// NextMinor returns the version following an edit.
func (v Version) NextMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

// NextMajor returns the version following an upgrade.
func (v Version) NextMajor() Version {
	return Version{Major: v.Major + 1, Minor: 0}
}

// MarshalText encodes the version as "major.minor".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes "major.minor".
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Deck is an immutable snapshot. Lifecycle functions return new values and never
// modify their inputs.
type Deck struct {
	ID                   string            `json:"id"`
	UUID                 string            `json:"uuid"`
	OwnerID              string            `json:"owner_id,omitempty"`
	Name                 string            `json:"name"`
	InvestigatorCode     string            `json:"investigator_code"`
	Slots                Slots             `json:"slots"`
	IgnoreDeckLimitSlots Slots             `json:"ignore_deck_limit_slots"`
	TabooID              int               `json:"taboo_id,omitempty"`
	XP                   int               `json:"xp"`
	XPAdjustment         int               `json:"xp_adjustment"`
	SpentXP              int               `json:"spent_xp"`
	Problem              string            `json:"problem,omitempty"`
	Version              Version           `json:"version"`
	PreviousDeck         string            `json:"previous_deck,omitempty"`
	NextDeck             string            `json:"next_deck,omitempty"`
	ExileString          string            `json:"exile_string,omitempty"`
	Meta                 map[string]string `json:"meta,omitempty"`
	Description          string            `json:"description,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewDeckParams describes a deck being created.
type NewDeckParams struct {
	ID                   string
	OwnerID              string
	Name                 string
	InvestigatorCode     string
	Slots                Slots
	IgnoreDeckLimitSlots Slots
	TabooID              int
	Meta                 map[string]string
	Problem              string
	Description          string
}

// DeckEdit is a whole-content replacement applied by UpdateLocalDeck.
type DeckEdit struct {
	Name                 string
	Slots                Slots
	IgnoreDeckLimitSlots Slots
	Problem              string
	SpentXP              int
	XPAdjustment         int
	TabooID              int
	Meta                 map[string]string
	Description          string
}

// UpgradeResult pairs the retired deck with its successor.
type UpgradeResult struct {
	Deck     Deck `json:"deck"`
	Upgraded Deck `json:"upgraded_deck"`
}

// NewLocalDeck creates a deck at InitialVersion.
func NewLocalDeck(params NewDeckParams, now time.Time) Deck {
	timestamp := now.UTC()
	return Deck{
		ID:                   params.ID,
		UUID:                 uuid.NewString(),
		OwnerID:              params.OwnerID,
		Name:                 params.Name,
		InvestigatorCode:     params.InvestigatorCode,
		Slots:                params.Slots.Clone(),
		IgnoreDeckLimitSlots: params.IgnoreDeckLimitSlots.Clone(),
		TabooID:              params.TabooID,
		Problem:              params.Problem,
		Version:              InitialVersion,
		Meta:                 cloneMeta(params.Meta),
		Description:          params.Description,
		CreatedAt:            timestamp,
		UpdatedAt:            timestamp,
	}
}

// UpdateLocalDeck applies an edit and bumps the minor version.
func UpdateLocalDeck(deck Deck, edit DeckEdit, now time.Time) Deck {
	updated := deck.clone()
	updated.Name = edit.Name
	updated.Slots = edit.Slots.Clone()
	updated.IgnoreDeckLimitSlots = edit.IgnoreDeckLimitSlots.Clone()
	updated.Problem = edit.Problem
	updated.SpentXP = edit.SpentXP
	updated.XPAdjustment = edit.XPAdjustment
	updated.TabooID = edit.TabooID
	updated.Meta = cloneMeta(edit.Meta)
	updated.Description = edit.Description
	updated.Version = deck.Version.NextMinor()
	updated.UpdatedAt = now.UTC()
	return updated
}

// UpgradeLocalDeck retires deck in favour of a successor identified by newID. Earned
// xp is added to the unspent balance, each exiled code removes one copy, and the
// successor starts a new major version.
func UpgradeLocalDeck(newID string, deck Deck, xp int, exiles []string, now time.Time) UpgradeResult {
	timestamp := now.UTC()

	retired := deck.clone()
	retired.NextDeck = newID

	slots := deck.Slots.Clone()
	for _, code := range exiles {
		if slots[code] <= 0 {
			continue
		}
		slots[code]--
		if slots[code] <= 0 {
			delete(slots, code)
		}
	}

	upgraded := deck.clone()
	upgraded.ID = newID
	upgraded.UUID = uuid.NewString()
	upgraded.Slots = slots
	upgraded.CreatedAt = timestamp
	upgraded.UpdatedAt = timestamp
	if len(exiles) > 0 {
		upgraded.Problem = string(KindTooFewCards)
	}
	upgraded.XP = xp + deck.XP + deck.XPAdjustment - deck.SpentXP
	upgraded.XPAdjustment = 0
	upgraded.SpentXP = 0
	upgraded.Version = deck.Version.NextMajor()
	upgraded.PreviousDeck = deck.ID
	upgraded.NextDeck = ""
	upgraded.ExileString = strings.Join(exiles, ",")

	return UpgradeResult{Deck: retired, Upgraded: upgraded}
}

func (d Deck) clone() Deck {
	copied := d
	copied.Slots = d.Slots.Clone()
	copied.IgnoreDeckLimitSlots = d.IgnoreDeckLimitSlots.Clone()
	copied.Meta = cloneMeta(d.Meta)
	return copied
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	copied := make(map[string]string, len(meta))
	for key, value := range meta {
		copied[key] = value
	}
	return copied
}
