package campaignlog

import (
	"fmt"
	"sort"
)

// Status describes what Apply did with a step.
type Status string

const (
	StatusApplied         Status = "applied"
	StatusAlreadyAnswered Status = "already_answered"
	StatusDisabled        Status = "disabled"
	StatusInvalidAnswer   Status = "invalid_answer"
	StatusUnhandled       Status = "unhandled"
)

const maxScenarioInvestigators = 4

// Answer is the player's input for a step. Each variant reads the fields it needs.
type Answer struct {
	Choice        *int                      `json:"choice,omitempty"`
	Value         int                       `json:"value"`
	Investigators []string                  `json:"investigators,omitempty"`
	Cards         []string                  `json:"cards,omitempty"`
	Supplies      map[string]map[string]int `json:"supplies,omitempty"`
	Counts        map[string]int            `json:"counts,omitempty"`
	Text          string                    `json:"text,omitempty"`
}

// Outcome reports the status of an Apply call and, when nothing was applied, why.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Applied reports whether the log changed.
func (o Outcome) Applied() bool {
	return o.Status == StatusApplied
}

// Repeatable reports whether a step may be answered again after its first answer.
func Repeatable(step Step) bool {
	counter, ok := step.(CounterStep)
	return ok && counter.LongLived
}

// Apply applies the answered step to a copy of the log. The input log is never
// modified; when the outcome is not StatusApplied the input is returned as is.
func Apply(log Log, step Step, answer Answer) (Log, Outcome) {
	if step == nil {
		return log, Outcome{Status: StatusUnhandled, Reason: "missing step"}
	}
	if step.StepID() == "" {
		return log, Outcome{Status: StatusUnhandled, Reason: "step without id"}
	}
	if log.IsAnswered(step.StepID()) && !Repeatable(step) {
		return log, Outcome{Status: StatusAlreadyAnswered}
	}

	next := log.Clone()
	visitor := &applier{log: &next, answer: answer, outcome: Outcome{Status: StatusApplied}}
	step.Accept(visitor)
	if !visitor.outcome.Applied() {
		return log, visitor.outcome
	}
	next.Answered[step.StepID()] = true
	return next, visitor.outcome
}

// applier mutates its private copy of the log. Handlers validate the whole answer
// before the first write so a rejected answer leaves no partial state behind.
type applier struct {
	log     *Log
	answer  Answer
	outcome Outcome
}

func (a *applier) reject(status Status, format string, args ...any) {
	a.outcome = Outcome{Status: status, Reason: fmt.Sprintf(format, args...)}
}

func (a *applier) VisitChooseOne(step ChooseOneStep) {
	if a.answer.Choice == nil {
		a.reject(StatusInvalidAnswer, "choice required")
		return
	}
	index := *a.answer.Choice
	if index < 0 || index >= len(step.Choices) {
		a.reject(StatusInvalidAnswer, "choice %d out of range", index)
		return
	}
	effects := step.Choices[index].Effects
	for _, effect := range effects {
		if !knownEffect(effect.Type) {
			a.reject(StatusUnhandled, "unknown effect %q", effect.Type)
			return
		}
	}
	for _, effect := range effects {
		a.applyEffect(step.ID, effect)
	}
	a.log.Choices[step.ID] = index
}

func knownEffect(effectType string) bool {
	switch effectType {
	case EffectDecision, EffectLogEntry, EffectCrossOut, EffectCount:
		return true
	default:
		return false
	}
}

func (a *applier) applyEffect(stepID string, effect Effect) {
	switch effect.Type {
	case EffectDecision:
		id := effect.ID
		if id == "" {
			id = stepID
		}
		if _, set := a.log.Decisions[id]; set && !effect.Overwrite {
			return
		}
		value := true
		if effect.Value != nil {
			value = *effect.Value
		}
		a.log.Decisions[id] = value
	case EffectLogEntry:
		a.log.appendEntry(effect.Section, Entry{ID: effect.ID, Text: effect.Text})
	case EffectCrossOut:
		a.log.crossOut(effect.Section, effect.ID)
	case EffectCount:
		current := a.log.Count(effect.Section, effect.ID)
		if effect.Operation == OperationSet {
			current = effect.Amount
		} else {
			current += effect.Amount
		}
		a.log.setCount(effect.Section, effect.ID, current)
	}
}

func (a *applier) VisitCounter(step CounterStep) {
	section := step.Section
	if section == "" {
		section = step.ID
	}
	value := step.Clamp(a.log.Count(section, step.Key) + a.answer.Value)
	a.log.setCount(section, step.Key, value)
}

func (a *applier) VisitInvestigatorCounter(step InvestigatorCounterStep) {
	section := step.Section
	if section == "" {
		section = step.ID
	}
	for investigator := range a.answer.Counts {
		if !a.knownInvestigator(investigator) {
			a.reject(StatusInvalidAnswer, "unknown investigator %q", investigator)
			return
		}
	}
	for _, investigator := range sortedKeys(a.answer.Counts) {
		value := step.Clamp(a.log.Count(section, investigator) + a.answer.Counts[investigator])
		a.log.setCount(section, investigator, value)
	}
}

func (a *applier) VisitSupplies(step SuppliesStep) {
	costs := make(map[string]int, len(step.Supplies))
	for _, supply := range step.Supplies {
		costs[supply.ID] = supply.Cost
	}
	for investigator, purchases := range a.answer.Supplies {
		if !a.knownInvestigator(investigator) {
			a.reject(StatusInvalidAnswer, "unknown investigator %q", investigator)
			return
		}
		remaining := step.Points
		for _, supplyID := range sortedKeys(purchases) {
			quantity := purchases[supplyID]
			cost, ok := costs[supplyID]
			if !ok || quantity < 0 {
				a.reject(StatusInvalidAnswer, "invalid supply %q", supplyID)
				return
			}
			if step.Points <= 0 || cost <= 0 {
				continue
			}
			// Division keeps cost*quantity from overflowing.
			if quantity > remaining/cost {
				a.reject(StatusInvalidAnswer, "%s spent more than %d points", investigator, step.Points)
				return
			}
			remaining -= cost * quantity
		}
	}

	for _, investigator := range sortedKeys(a.answer.Supplies) {
		purchases := a.answer.Supplies[investigator]
		section := a.log.investigatorSection(step.Section, investigator).clone()
		for _, supplyID := range sortedKeys(purchases) {
			quantity := purchases[supplyID]
			if quantity == 0 {
				continue
			}
			section = addSupply(section, supplyID, quantity)
		}
		a.log.setInvestigatorSection(step.Section, investigator, section)
	}
}

func addSupply(section Section, supplyID string, quantity int) Section {
	for index, entry := range section.Entries {
		if entry.ID == supplyID {
			section.Entries[index].Count += quantity
			section.Entries[index].CrossedOut = section.Entries[index].Count <= 0
			return section
		}
	}
	section.Entries = append(section.Entries, Entry{ID: supplyID, Count: quantity})
	return section
}

func (a *applier) VisitUseSupplies(step UseSuppliesStep) {
	quantity := step.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	selected, ok := a.boundedSelection(Bounds{})
	if !ok {
		return
	}
	for _, investigator := range selected {
		if a.supplyHeld(step.Section, investigator, step.Supply) < quantity {
			a.reject(StatusDisabled, "%s lacks %d %s", investigator, quantity, step.Supply)
			return
		}
	}
	for _, investigator := range selected {
		section := a.log.investigatorSection(step.Section, investigator).clone()
		a.log.setInvestigatorSection(step.Section, investigator, addSupply(section, step.Supply, -quantity))
	}
	a.log.InvestigatorChoices[step.ID] = selected
}

func (a *applier) VisitCardChoice(step CardChoiceStep) {
	if !step.Allows(len(a.answer.Cards)) {
		a.reject(StatusInvalidAnswer, "%d cards chosen", len(a.answer.Cards))
		return
	}
	for _, code := range a.answer.Cards {
		if code == "" {
			a.reject(StatusInvalidAnswer, "empty card code")
			return
		}
	}
	for _, code := range a.answer.Cards {
		a.log.appendEntry(step.Section, Entry{ID: code})
	}
}

func (a *applier) VisitInvestigatorChoice(step InvestigatorChoiceStep) {
	selected, ok := a.boundedSelection(step.Bounds)
	if !ok {
		return
	}
	a.log.InvestigatorChoices[step.ID] = selected
	if step.Section != "" {
		for _, investigator := range selected {
			a.log.appendEntry(step.Section, Entry{ID: investigator})
		}
	}
}

func (a *applier) VisitInvestigatorChoiceSupplies(step InvestigatorChoiceSuppliesStep) {
	quantity := step.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	selected, ok := a.boundedSelection(step.Bounds)
	if !ok {
		return
	}
	for _, investigator := range selected {
		if a.supplyHeld(step.Section, investigator, step.Supply) < quantity {
			a.reject(StatusDisabled, "%s lacks %d %s", investigator, quantity, step.Supply)
			return
		}
	}
	a.log.InvestigatorChoices[step.ID] = selected
}

func (a *applier) VisitUpgradeDecks(UpgradeDecksStep) {}

func (a *applier) VisitPlayScenario(PlayScenarioStep) {}

func (a *applier) VisitScenarioInvestigators(step ScenarioInvestigatorsStep) {
	selected, ok := a.distinctInvestigators()
	if !ok {
		return
	}
	if len(selected) < 1 || len(selected) > maxScenarioInvestigators {
		a.reject(StatusInvalidAnswer, "%d investigators chosen", len(selected))
		return
	}
	a.log.Investigators = selected
	a.log.InvestigatorChoices[step.ID] = append([]string(nil), selected...)
}

func (a *applier) VisitTextBox(step TextBoxStep) {
	a.log.Texts[step.ID] = a.answer.Text
	if step.Section != "" && a.answer.Text != "" {
		a.log.appendEntry(step.Section, Entry{ID: step.ID, Text: a.answer.Text})
	}
}

func (a *applier) VisitUnhandled(step UnhandledStep) {
	a.reject(StatusUnhandled, "unknown step type %q", step.Type)
}

// distinctInvestigators validates the answered investigators for duplicates and
// scenario membership.
func (a *applier) distinctInvestigators() ([]string, bool) {
	seen := make(map[string]bool, len(a.answer.Investigators))
	selected := make([]string, 0, len(a.answer.Investigators))
	for _, investigator := range a.answer.Investigators {
		if investigator == "" || seen[investigator] {
			a.reject(StatusInvalidAnswer, "duplicate or empty investigator %q", investigator)
			return nil, false
		}
		seen[investigator] = true
		selected = append(selected, investigator)
	}
	return selected, true
}

func (a *applier) boundedSelection(bounds Bounds) ([]string, bool) {
	selected, ok := a.distinctInvestigators()
	if !ok {
		return nil, false
	}
	for _, investigator := range selected {
		if !a.knownInvestigator(investigator) {
			a.reject(StatusInvalidAnswer, "unknown investigator %q", investigator)
			return nil, false
		}
	}
	if !bounds.Allows(len(selected)) {
		a.reject(StatusInvalidAnswer, "%d investigators chosen", len(selected))
		return nil, false
	}
	return selected, true
}

// knownInvestigator accepts any code until the scenario investigators are recorded.
func (a *applier) knownInvestigator(code string) bool {
	return len(a.log.Investigators) == 0 || a.log.HasInvestigator(code)
}

func (a *applier) supplyHeld(sectionID, investigator, supplyID string) int {
	entry, ok := a.log.investigatorSection(sectionID, investigator).Entry(supplyID)
	if !ok || entry.CrossedOut {
		return 0
	}
	return entry.Count
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
