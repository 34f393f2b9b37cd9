package decks

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
)

const testInvestigator = "90001"

func intPtr(value int) *int {
	return &value
}

func guardianAsset(code string, xp int) cards.Card {
	return cards.Card{Code: code, Name: "Asset " + code, FactionCode: "guardian", TypeCode: "asset", XP: intPtr(xp)}
}

// testCatalog holds the investigator, the required card 01001 and fifteen level 0
// guardian assets 01002..01016.
func testCatalog(extra ...cards.Card) *cards.Catalog {
	all := []cards.Card{
		{
			Code:     testInvestigator,
			Name:     "Test Investigator",
			TypeCode: cards.TypeInvestigator,
			DeckRequirements: &cards.DeckRequirements{
				Size:  30,
				Cards: []cards.CardRequirement{{Code: "01001"}},
			},
			DeckOptions: []cards.DeckOption{
				{Faction: []string{"guardian", "neutral"}, Level: &cards.LevelRange{Min: 0, Max: 5}},
			},
		},
		{Code: "01001", Name: "Signature", FactionCode: "guardian", TypeCode: "asset", IsUnique: true,
			Restrictions: &cards.Restrictions{Investigators: map[string]string{testInvestigator: testInvestigator}}},
	}
	for index := 2; index <= 16; index++ {
		all = append(all, guardianAsset(fmt.Sprintf("010%02d", index), 0))
	}
	return cards.NewCatalog(append(all, extra...))
}

func legalSlots() Slots {
	slots := Slots{"01001": 1, "01016": 1}
	for index := 2; index <= 15; index++ {
		slots[fmt.Sprintf("010%02d", index)] = 2
	}
	return slots
}

func validateFor(catalog *cards.Catalog, slots Slots) Result {
	return Validate(InputForInvestigator(catalog, testInvestigator, slots, nil))
}

func kinds(result Result) []Kind {
	collected := make([]Kind, 0, len(result.Problems))
	for _, problem := range result.Problems {
		collected = append(collected, problem.Kind)
	}
	return collected
}

func hasKind(result Result, kind Kind) bool {
	for _, problem := range result.Problems {
		if problem.Kind == kind {
			return true
		}
	}
	return false
}

func TestValidateAcceptsLegalDeck(t *testing.T) {
	slots := legalSlots()
	if slots.Total() != 30 {
		t.Fatalf("fixture should hold 30 cards, got %d", slots.Total())
	}

	result := validateFor(testCatalog(), slots)

	if !result.Valid || len(result.Problems) != 0 {
		t.Fatalf("expected valid deck without problems, got %+v", result)
	}
}

func TestValidateReportsMissingRequiredCard(t *testing.T) {
	slots := legalSlots()
	delete(slots, "01001")

	result := validateFor(testCatalog(), slots)

	if result.Valid {
		t.Fatalf("expected invalid deck")
	}
	if !hasKind(result, KindMissingRequiredCard) || result.Problems[0].CardCode != "01001" {
		t.Fatalf("expected missing_required_card for 01001 first, got %+v", result.Problems)
	}
}

func TestValidateAcceptsRequiredAlternate(t *testing.T) {
	investigator := cards.Card{
		Code:     "90002",
		TypeCode: cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{
			Cards: []cards.CardRequirement{{Code: "01001", Alternates: []string{"98001"}}},
		},
	}
	alternate := cards.Card{Code: "98001", FactionCode: "mystic", TypeCode: "asset"}
	catalog := testCatalog(investigator, alternate)

	result := Validate(InputForInvestigator(catalog, "90002", Slots{"98001": 1}, nil))

	if !result.Valid {
		t.Fatalf("expected alternate to satisfy the requirement and be exempt from options, got %+v", result.Problems)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	catalog := testCatalog(cards.Card{Code: "02001", FactionCode: "seeker", TypeCode: "asset"})
	slots := Slots{"02001": 3, "99999": 1, "01002": 4, "01003": 1}

	first := validateFor(catalog, slots)
	for attempt := 0; attempt < 20; attempt++ {
		again := validateFor(catalog, slots)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("expected identical results, got %+v and %+v", first, again)
		}
	}
	expected := []Kind{
		KindUnknownCard,
		KindMissingRequiredCard,
		KindDeckSizeTooSmall,
		KindInvalidCard,
		KindTooManyCopies,
		KindTooManyCopies,
	}
	if !reflect.DeepEqual(kinds(first), expected) {
		t.Fatalf("expected ordered kinds %v, got %v", expected, kinds(first))
	}
}

func TestValidateFlagsCardMatchingNoOption(t *testing.T) {
	catalog := testCatalog(cards.Card{Code: "02001", FactionCode: "seeker", TypeCode: "asset"})

	testCases := []struct {
		name  string
		slots Slots
	}{
		{name: "otherwise legal deck", slots: func() Slots { s := legalSlots(); s["01016"] = 0; s["02001"] = 1; return s }()},
		{name: "deck with other problems", slots: Slots{"02001": 1, "99999": 2}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result := validateFor(catalog, testCase.slots)
			found := false
			for _, problem := range result.Problems {
				if problem.Kind == KindInvalidCard && problem.CardCode == "02001" {
					found = true
				}
			}
			if !found || result.Valid {
				t.Fatalf("expected invalid_card for 02001, got %+v", result.Problems)
			}
		})
	}
}

func TestValidateOptionLimitAddsSingleProblem(t *testing.T) {
	investigator := cards.Card{
		Code:     "90003",
		TypeCode: cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{
			Size: 30,
		},
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian"}},
			{Faction: []string{"seeker"}, Level: &cards.LevelRange{Min: 0, Max: 0}, Limit: intPtr(2)},
		},
	}
	seekerOne := cards.Card{Code: "02001", FactionCode: "seeker", TypeCode: "asset"}
	seekerTwo := cards.Card{Code: "02002", FactionCode: "seeker", TypeCode: "asset"}
	catalog := testCatalog(investigator, seekerOne, seekerTwo)

	before := Validate(InputForInvestigator(catalog, "90003", Slots{"01002": 2, "02001": 1, "02002": 1}, nil))
	after := Validate(InputForInvestigator(catalog, "90003", Slots{"01002": 2, "02001": 2, "02002": 1}, nil))

	if len(after.Problems) != len(before.Problems)+1 {
		t.Fatalf("expected exactly one new problem, before %+v after %+v", before.Problems, after.Problems)
	}
	for _, problem := range before.Problems {
		if !hasKind(after, problem.Kind) {
			t.Fatalf("expected %s to survive, got %+v", problem.Kind, after.Problems)
		}
	}
	added := 0
	for _, problem := range after.Problems {
		if problem.Kind.TooMany() {
			added++
		}
	}
	if added != 1 || !hasKind(after, KindDeckOptionsLimit) {
		t.Fatalf("expected a single deck_options_limit problem, got %+v", after.Problems)
	}
}

func TestValidateOptionLimitAtExactDeckSize(t *testing.T) {
	investigator := cards.Card{
		Code:             "90004",
		TypeCode:         cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{Size: 6},
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian"}},
			{Faction: []string{"seeker"}, Level: &cards.LevelRange{Min: 0, Max: 0}, Limit: intPtr(2)},
		},
	}
	catalog := testCatalog(
		investigator,
		cards.Card{Code: "02001", FactionCode: "seeker", TypeCode: "asset"},
		cards.Card{Code: "02002", FactionCode: "seeker", TypeCode: "asset"},
	)

	before := Validate(InputForInvestigator(catalog, "90004", Slots{"01002": 2, "01003": 2, "02001": 1, "02002": 1}, nil))
	if len(before.Problems) != 0 {
		t.Fatalf("expected a legal six card deck, got %+v", before.Problems)
	}

	testCases := []struct {
		name  string
		slots Slots
		kinds []Kind
	}{
		{
			name:  "extra copy grows the deck",
			slots: Slots{"01002": 2, "01003": 2, "02001": 2, "02002": 1},
			kinds: []Kind{KindTooManyCards, KindDeckOptionsLimit},
		},
		{
			name:  "extra copy replaces another card",
			slots: Slots{"01002": 2, "01003": 1, "02001": 2, "02002": 1},
			kinds: []Kind{KindDeckOptionsLimit},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			after := Validate(InputForInvestigator(catalog, "90004", testCase.slots, nil))
			if !reflect.DeepEqual(kinds(after), testCase.kinds) {
				t.Fatalf("expected %v, got %v", testCase.kinds, kinds(after))
			}
		})
	}
}

func TestValidateCapsUniqueCards(t *testing.T) {
	unique := cards.Card{Code: "01030", FactionCode: "guardian", TypeCode: "asset", IsUnique: true, DeckLimitValue: intPtr(2)}
	slots := legalSlots()
	slots["01016"] = 0
	slots["01030"] = 2
	slots["01015"] = 1

	result := validateFor(testCatalog(unique), slots)

	if len(result.Problems) != 1 || result.Problems[0].Kind != KindTooManyCopies || result.Problems[0].CardCode != "01030" {
		t.Fatalf("expected only too_many_copies for the unique card, got %+v", result.Problems)
	}
}

func TestValidateLevelOutOfRange(t *testing.T) {
	expensive := guardianAsset("01050", 6)
	slots := legalSlots()
	slots["01016"] = 0
	slots["01050"] = 1

	result := validateFor(testCatalog(expensive), slots)

	if len(result.Problems) != 1 {
		t.Fatalf("expected one problem, got %+v", result.Problems)
	}
	problem := result.Problems[0]
	if problem.Kind != KindInvalidCard || problem.Detail != "xp 6 outside level 0-5" {
		t.Fatalf("expected level detail, got %+v", problem)
	}
}

func TestValidateNotOptionForbidsCard(t *testing.T) {
	investigator := cards.Card{
		Code:     "90004",
		TypeCode: cards.TypeInvestigator,
		DeckOptions: []cards.DeckOption{
			{Trait: []string{"Spell"}, Not: true, Error: "No spells allowed"},
			{Faction: []string{"guardian"}},
		},
	}
	spell := cards.Card{Code: "01060", FactionCode: "guardian", TypeCode: "event", TraitsText: "Spell."}
	catalog := testCatalog(investigator, spell)

	result := Validate(InputForInvestigator(catalog, "90004", Slots{"01060": 1, "01002": 2}, nil))

	if len(result.Problems) != 1 || result.Problems[0].Detail != "No spells allowed" || result.Problems[0].CardCode != "01060" {
		t.Fatalf("expected spell to be forbidden, got %+v", result.Problems)
	}
}

func TestValidateAtLeastFactions(t *testing.T) {
	investigator := cards.Card{
		Code:     "90005",
		TypeCode: cards.TypeInvestigator,
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian", "seeker", "rogue"}, AtLeast: &cards.AtLeast{Factions: 2, Min: 2}, Limit: intPtr(1)},
		},
	}
	seeker := cards.Card{Code: "02001", FactionCode: "seeker", TypeCode: "asset"}
	rogue := cards.Card{Code: "03001", FactionCode: "rogue", TypeCode: "asset"}
	catalog := testCatalog(investigator, seeker, rogue)

	short := Validate(InputForInvestigator(catalog, "90005", Slots{"01002": 2, "02001": 1}, nil))
	if !reflect.DeepEqual(kinds(short), []Kind{KindAtLeastNotMet}) {
		t.Fatalf("expected atleast_not_met only, got %+v", short.Problems)
	}

	met := Validate(InputForInvestigator(catalog, "90005", Slots{"01002": 2, "02001": 2, "03001": 1}, nil))
	if !met.Valid {
		t.Fatalf("expected atleast to be satisfied and limit ignored, got %+v", met.Problems)
	}
}

func TestValidateRandomRequirementIsAdvisory(t *testing.T) {
	investigator := cards.Card{
		Code:     "90006",
		TypeCode: cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{
			Random: []cards.RandomRequirement{{Target: "subtype", Value: cards.SubtypeBasicWeakness}},
		},
		DeckOptions: []cards.DeckOption{{Faction: []string{"guardian"}}},
	}
	catalog := testCatalog(investigator)

	result := Validate(InputForInvestigator(catalog, "90006", Slots{"01002": 1}, nil))

	if !result.Valid {
		t.Fatalf("expected advisory problem not to invalidate the deck")
	}
	if len(result.Problems) != 1 || result.Problems[0].Kind != KindTooFewCards || !result.Problems[0].Advisory {
		t.Fatalf("expected advisory too_few_cards, got %+v", result.Problems)
	}
}

func TestValidateDeckSizeCounting(t *testing.T) {
	investigator := cards.Card{
		Code:     "90007",
		TypeCode: cards.TypeInvestigator,
		DeckRequirements: &cards.DeckRequirements{
			Size: 4,
		},
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian"}},
			{Faction: []string{"survivor"}, DeckSizeAdjust: 2},
		},
	}
	permanent := cards.Card{Code: "05001", FactionCode: "guardian", TypeCode: "asset", Permanent: true}
	weakness := cards.Card{Code: "01096", FactionCode: cards.FactionNeutral, TypeCode: "treachery", SubtypeCode: cards.SubtypeBasicWeakness}
	survivor := cards.Card{Code: "06001", FactionCode: "survivor", TypeCode: "asset"}
	catalog := testCatalog(investigator, permanent, weakness, survivor)

	testCases := []struct {
		name   string
		slots  Slots
		ignore Slots
		kinds  []Kind
	}{
		{name: "exact size", slots: Slots{"01002": 2, "01003": 2, "05001": 1, "01096": 1}, kinds: []Kind{}},
		{name: "too large", slots: Slots{"01002": 2, "01003": 2, "01004": 1}, kinds: []Kind{KindTooManyCards}},
		{name: "ignored copies excluded", slots: Slots{"01002": 2, "01003": 2, "01004": 3}, ignore: Slots{"01004": 3}, kinds: []Kind{}},
		{name: "option adjusts size", slots: Slots{"01002": 2, "01003": 2, "06001": 1}, kinds: []Kind{KindDeckSizeTooSmall}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result := Validate(InputForInvestigator(catalog, "90007", testCase.slots, testCase.ignore))
			if !reflect.DeepEqual(kinds(result), testCase.kinds) {
				t.Fatalf("expected %v, got %+v", testCase.kinds, result.Problems)
			}
		})
	}
}

func TestValidateSignatureCardsAreExempt(t *testing.T) {
	investigator := cards.Card{
		Code:     "90008",
		TypeCode: cards.TypeInvestigator,
		DeckOptions: []cards.DeckOption{
			{Faction: []string{"guardian"}, Limit: intPtr(1)},
		},
	}
	signature := cards.Card{Code: "98010", FactionCode: "guardian", TypeCode: "asset",
		Restrictions: &cards.Restrictions{Investigators: map[string]string{"90008": "90008"}}}
	catalog := testCatalog(investigator, signature)

	result := Validate(InputForInvestigator(catalog, "90008", Slots{"98010": 2, "01002": 1}, nil))

	if !result.Valid || len(result.Problems) != 0 {
		t.Fatalf("expected signature copies to skip the option limit, got %+v", result.Problems)
	}
}

func TestValidateToleratesMissingData(t *testing.T) {
	result := Validate(ValidationInput{Slots: Slots{"01001": 1, "01002": -3}})

	if result.Valid || len(result.Problems) != 1 || result.Problems[0].Kind != KindUnknownCard {
		t.Fatalf("expected a single unknown_card problem, got %+v", result.Problems)
	}

	unknownInvestigator := Validate(InputForInvestigator(testCatalog(), "nobody", Slots{"01002": 1}, nil))
	if len(unknownInvestigator.Problems) != 1 || unknownInvestigator.Problems[0].Kind != KindInvalidCard {
		t.Fatalf("expected invalid_card without investigator options, got %+v", unknownInvestigator.Problems)
	}
}
