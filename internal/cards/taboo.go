package cards

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidTabooSet indicates a taboo set without an identifier.
var ErrInvalidTabooSet = errors.New("cards: invalid taboo set")

// TabooSet is a versioned ruleset overriding card restrictions.
type TabooSet struct {
	ID    int          `json:"id"`
	Code  string       `json:"code,omitempty"`
	Name  string       `json:"name,omitempty"`
	Cards []TabooEntry `json:"cards"`
}

// TabooEntry overrides a single card.
type TabooEntry struct {
	Code        string `json:"code"`
	XP          *int   `json:"xp,omitempty"`
	DeckLimit   *int   `json:"deck_limit,omitempty"`
	Exceptional *bool  `json:"exceptional,omitempty"`
}

func (e TabooEntry) apply(card Card) Card {
	updated := card
	if e.XP != nil {
		xp := card.Level() + *e.XP
		updated.XP = &xp
	}
	if e.DeckLimit != nil {
		limit := *e.DeckLimit
		updated.DeckLimitValue = &limit
	}
	if e.Exceptional != nil {
		updated.Exceptional = *e.Exceptional
	}
	if updated.Exceptional && !updated.IsUnique {
		limit := 1
		updated.DeckLimitValue = &limit
	}
	return updated
}

type tabooSetDocument struct {
	ID    int             `json:"id"`
	Code  string          `json:"code,omitempty"`
	Name  string          `json:"name,omitempty"`
	Cards json.RawMessage `json:"cards"`
}

// UnmarshalJSON accepts the card list either inline or as a JSON-encoded string,
// the latter being how public data dumps publish taboo lists.
func (t *TabooSet) UnmarshalJSON(data []byte) error {
	var document tabooSetDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return err
	}
	if document.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidTabooSet, document.ID)
	}

	raw := bytes.TrimSpace(document.Cards)
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return err
		}
		raw = []byte(encoded)
	}

	var entries []TabooEntry
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("%w: cards: %v", ErrInvalidTabooSet, err)
		}
	}

	*t = TabooSet{
		ID:    document.ID,
		Code:  document.Code,
		Name:  document.Name,
		Cards: entries,
	}
	return nil
}
