package decks

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
)

// Kind classifies a validation problem.
type Kind string

const (
	KindUnknownCard         Kind = "unknown_card"
	KindMissingRequiredCard Kind = "missing_required_card"
	KindTooFewCards         Kind = "too_few_cards"
	KindDeckSizeTooSmall    Kind = "deck_size_too_small"
	KindTooManyCards        Kind = "too_many_cards"
	KindTooManyCopies       Kind = "too_many_copies"
	KindDeckOptionsLimit    Kind = "deck_options_limit"
	KindAtLeastNotMet       Kind = "atleast_not_met"
	KindInvalidCard         Kind = "invalid_card"
)

// TooMany reports whether the kind belongs to the too-many-cards class.
func (k Kind) TooMany() bool {
	switch k {
	case KindTooManyCards, KindTooManyCopies, KindDeckOptionsLimit:
		return true
	default:
		return false
	}
}

// Problem is one diagnostic produced by Validate. Advisory problems are reported
// but do not make the deck invalid.
type Problem struct {
	Kind     Kind   `json:"kind"`
	CardCode string `json:"card_code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Advisory bool   `json:"advisory,omitempty"`
}

// Result is the legality verdict for a slot list.
type Result struct {
	Valid    bool      `json:"valid"`
	Problems []Problem `json:"problems"`
}

// FirstBlocking returns the kind of the first non-advisory problem, if any.
func (r Result) FirstBlocking() (Kind, bool) {
	for _, problem := range r.Problems {
		if !problem.Advisory {
			return problem.Kind, true
		}
	}
	return "", false
}

// ValidationInput bundles everything Validate reads.
type ValidationInput struct {
	InvestigatorCode string
	Requirements     *cards.DeckRequirements
	Options          []cards.DeckOption
	Slots            Slots
	IgnoreDeckLimit  Slots
	Catalog          cards.Source
}

// InputForInvestigator builds a ValidationInput from the investigator's catalog entry.
// A missing investigator yields an input without requirements or options, so every
// regular card is reported as invalid.
func InputForInvestigator(catalog cards.Source, investigatorCode string, slots, ignoreDeckLimit Slots) ValidationInput {
	input := ValidationInput{
		InvestigatorCode: investigatorCode,
		Slots:            slots,
		IgnoreDeckLimit:  ignoreDeckLimit,
		Catalog:          catalog,
	}
	if catalog == nil {
		return input
	}
	if investigator, ok := catalog.Lookup(investigatorCode); ok {
		input.Requirements = investigator.DeckRequirements
		input.Options = investigator.DeckOptions
	}
	return input
}

// optionTally accumulates the cards governed by one deck option.
type optionTally struct {
	total     int
	byFaction map[string]int
}

type validation struct {
	input     ValidationInput
	codes     []string
	resolved  map[string]cards.Card
	signature map[string]bool
	tallies   []optionTally
	problems  []Problem
}

// Validate computes the legality of the slot list. It never panics on malformed
// input: missing catalog data degrades to "no match" and the problem list is always
// complete. Problems are ordered by stage and, within a stage, by card code.
func Validate(input ValidationInput) Result {
	v := &validation{
		input:     input,
		codes:     input.Slots.Codes(),
		resolved:  make(map[string]cards.Card),
		signature: make(map[string]bool),
		tallies:   make([]optionTally, len(input.Options)),
	}

	v.resolveCards()
	v.checkRequiredCards()
	v.checkRandomRequirements()
	optionProblems := v.governCards()
	v.checkDeckSize()
	v.problems = append(v.problems, optionProblems...)
	v.checkOptionLimits()
	v.checkCopies()

	result := Result{Valid: true, Problems: v.problems}
	if result.Problems == nil {
		result.Problems = []Problem{}
	}
	if _, blocking := result.FirstBlocking(); blocking {
		result.Valid = false
	}
	return result
}

func (v *validation) add(problem Problem) {
	v.problems = append(v.problems, problem)
}

func (v *validation) resolveCards() {
	for _, code := range v.codes {
		var (
			card cards.Card
			ok   bool
		)
		if v.input.Catalog != nil {
			card, ok = v.input.Catalog.Lookup(code)
		}
		if !ok {
			v.add(Problem{Kind: KindUnknownCard, CardCode: code})
			continue
		}
		v.resolved[code] = card
		if card.RestrictedTo(v.input.InvestigatorCode) {
			v.signature[code] = true
		}
	}
}

func (v *validation) checkRequiredCards() {
	if v.input.Requirements == nil {
		return
	}
	for _, requirement := range v.input.Requirements.Cards {
		if requirement.Code == "" {
			continue
		}
		present := v.input.Slots.Quantity(requirement.Code)
		v.signature[requirement.Code] = true
		for _, alternate := range requirement.Alternates {
			present += v.input.Slots.Quantity(alternate)
			v.signature[alternate] = true
		}
		if present < requirement.RequiredQuantity() {
			v.add(Problem{
				Kind:     KindMissingRequiredCard,
				CardCode: requirement.Code,
				Detail:   fmt.Sprintf("requires %d, found %d", requirement.RequiredQuantity(), present),
			})
		}
	}
}

func (v *validation) checkRandomRequirements() {
	if v.input.Requirements == nil || v.input.Catalog == nil {
		return
	}
	for _, random := range v.input.Requirements.Random {
		available := v.input.Catalog.CountMatching(random.Target, random.Value)
		if available < random.RequiredCount() {
			v.add(Problem{
				Kind:     KindTooFewCards,
				Detail:   fmt.Sprintf("%s %s: %d available, %d required", random.Target, random.Value, available, random.RequiredCount()),
				Advisory: true,
			})
		}
	}
}

// governCards walks the options for every resolved card, first match wins. The
// resulting invalid_card problems are returned rather than recorded so they follow
// the deck size stage.
func (v *validation) governCards() []Problem {
	var problems []Problem
	for _, code := range v.codes {
		card, ok := v.resolved[code]
		if !ok || v.signature[code] || card.IsWeakness() || card.IsInvestigator() {
			continue
		}
		index, problem := v.governingOption(card)
		if problem != nil {
			problems = append(problems, *problem)
			continue
		}
		tally := &v.tallies[index]
		quantity := v.input.Slots.Quantity(code)
		tally.total += quantity
		if tally.byFaction == nil {
			tally.byFaction = make(map[string]int)
		}
		for _, faction := range card.Factions() {
			tally.byFaction[strings.ToLower(faction)] += quantity
		}
	}
	return problems
}

func (v *validation) governingOption(card cards.Card) (int, *Problem) {
	var levelMiss *cards.LevelRange
	for index, option := range v.input.Options {
		if !option.Matches(card) {
			continue
		}
		if option.Level != nil && !option.Level.Contains(card.Level()) {
			if levelMiss == nil {
				levelMiss = option.Level
			}
			continue
		}
		if option.Not {
			detail := option.Error
			if detail == "" {
				detail = "forbidden by deck option"
			}
			return -1, &Problem{Kind: KindInvalidCard, CardCode: card.Code, Detail: detail}
		}
		return index, nil
	}
	if levelMiss != nil {
		return -1, &Problem{
			Kind:     KindInvalidCard,
			CardCode: card.Code,
			Detail:   fmt.Sprintf("xp %d outside level %d-%d", card.Level(), levelMiss.Min, levelMiss.Max),
		}
	}
	return -1, &Problem{Kind: KindInvalidCard, CardCode: card.Code, Detail: "no deck option allows this card"}
}

func (v *validation) checkDeckSize() {
	if v.input.Requirements == nil || v.input.Requirements.Size <= 0 {
		return
	}
	target := v.input.Requirements.Size
	for index, option := range v.input.Options {
		if v.tallies[index].total > 0 {
			target += option.DeckSizeAdjust
		}
	}

	counted := 0
	for code, card := range v.resolved {
		if card.Permanent || card.IsWeakness() || card.IsInvestigator() {
			continue
		}
		quantity := v.input.Slots.Quantity(code) - v.input.IgnoreDeckLimit.Quantity(code)
		if quantity > 0 {
			counted += quantity
		}
	}

	switch {
	case counted < target:
		v.add(Problem{Kind: KindDeckSizeTooSmall, Detail: fmt.Sprintf("%d of %d cards", counted, target)})
	case counted > target:
		v.add(Problem{Kind: KindTooManyCards, Detail: fmt.Sprintf("%d of %d cards", counted, target)})
	}
}

func (v *validation) checkOptionLimits() {
	for index, option := range v.input.Options {
		tally := v.tallies[index]
		if option.AtLeast != nil {
			if !atLeastSatisfied(option, tally) {
				v.add(Problem{
					Kind:   KindAtLeastNotMet,
					Detail: fmt.Sprintf("at least %d cards from %d factions", option.AtLeast.Min, option.AtLeast.Factions),
				})
			}
			continue
		}
		if option.Limit != nil && tally.total > *option.Limit {
			detail := option.Error
			if detail == "" {
				detail = fmt.Sprintf("%d cards exceed limit %d", tally.total, *option.Limit)
			}
			v.add(Problem{Kind: KindDeckOptionsLimit, Detail: detail})
		}
	}
}

func atLeastSatisfied(option cards.DeckOption, tally optionTally) bool {
	satisfied := 0
	for _, faction := range option.Faction {
		if tally.byFaction[strings.ToLower(strings.TrimSpace(faction))] >= option.AtLeast.Min {
			satisfied++
		}
	}
	return satisfied >= option.AtLeast.Factions
}

func (v *validation) checkCopies() {
	required := make(map[string]int)
	if v.input.Requirements != nil {
		for _, requirement := range v.input.Requirements.Cards {
			required[requirement.Code] = requirement.RequiredQuantity()
		}
	}
	for _, code := range v.codes {
		card, ok := v.resolved[code]
		if !ok {
			continue
		}
		limit := card.DeckLimit()
		if required[code] > limit {
			limit = required[code]
		}
		copies := v.input.Slots.Quantity(code) - v.input.IgnoreDeckLimit.Quantity(code)
		if copies > limit {
			v.add(Problem{
				Kind:     KindTooManyCopies,
				CardCode: code,
				Detail:   fmt.Sprintf("%d copies exceed deck limit %d", copies, limit),
			})
		}
	}
}
