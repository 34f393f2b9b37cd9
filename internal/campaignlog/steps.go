package campaignlog

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step type discriminators used in guide content.
const (
	TypeChooseOne                  = "choose_one"
	TypeCounter                    = "counter"
	TypeInvestigatorCounter        = "investigator_counter"
	TypeSupplies                   = "supplies"
	TypeUseSupplies                = "use_supplies"
	TypeCardChoice                 = "card_choice"
	TypeInvestigatorChoice         = "investigator_choice"
	TypeInvestigatorChoiceSupplies = "investigator_choice_supplies"
	TypeUpgradeDecks               = "upgrade_decks"
	TypePlayScenario               = "play_scenario"
	TypeScenarioInvestigators      = "scenario_investigators"
	TypeTextBox                    = "text_box"
)

// Step is one node of a campaign guide. The set of implementations is closed:
// every variant has a method on StepVisitor, so a new variant does not compile
// until each visitor handles it.
type Step interface {
	StepID() string
	StepType() string
	Accept(visitor StepVisitor)
	sealed()
}

// StepVisitor dispatches over the step variants.
type StepVisitor interface {
	VisitChooseOne(step ChooseOneStep)
	VisitCounter(step CounterStep)
	VisitInvestigatorCounter(step InvestigatorCounterStep)
	VisitSupplies(step SuppliesStep)
	VisitUseSupplies(step UseSuppliesStep)
	VisitCardChoice(step CardChoiceStep)
	VisitInvestigatorChoice(step InvestigatorChoiceStep)
	VisitInvestigatorChoiceSupplies(step InvestigatorChoiceSuppliesStep)
	VisitUpgradeDecks(step UpgradeDecksStep)
	VisitPlayScenario(step PlayScenarioStep)
	VisitScenarioInvestigators(step ScenarioInvestigatorsStep)
	VisitTextBox(step TextBoxStep)
	VisitUnhandled(step UnhandledStep)
}

// Header carries the fields shared by every step.
type Header struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// StepID returns the step identifier.
func (h Header) StepID() string {
	return h.ID
}

func (Header) sealed() {}

// Effect types written by choose_one options.
const (
	EffectDecision = "decision"
	EffectLogEntry = "log_entry"
	EffectCrossOut = "cross_out"
	EffectCount    = "count"
)

// Count effect operations.
const (
	OperationAdd = "add"
	OperationSet = "set"
)

// Effect is one write performed when an option is chosen.
type Effect struct {
	Type      string `yaml:"type" json:"type"`
	ID        string `yaml:"id,omitempty" json:"id,omitempty"`
	Section   string `yaml:"section,omitempty" json:"section,omitempty"`
	Text      string `yaml:"text,omitempty" json:"text,omitempty"`
	Value     *bool  `yaml:"value,omitempty" json:"value,omitempty"`
	Overwrite bool   `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`
	Operation string `yaml:"operation,omitempty" json:"operation,omitempty"`
	Amount    int    `yaml:"amount,omitempty" json:"amount,omitempty"`
}

// Choice is one option of a choose_one step.
type Choice struct {
	Text    string   `yaml:"text" json:"text"`
	Effects []Effect `yaml:"effects,omitempty" json:"effects,omitempty"`
}

// Bounds are optional inclusive limits.
type Bounds struct {
	Min *int `yaml:"min,omitempty" json:"min,omitempty"`
	Max *int `yaml:"max,omitempty" json:"max,omitempty"`
}

// Clamp restricts value to the declared bounds; absent bounds leave it unbounded.
func (b Bounds) Clamp(value int) int {
	if b.Min != nil && value < *b.Min {
		value = *b.Min
	}
	if b.Max != nil && value > *b.Max {
		value = *b.Max
	}
	return value
}

// Allows reports whether value lies within the declared bounds.
func (b Bounds) Allows(value int) bool {
	return b.Clamp(value) == value
}

// ChooseOneStep records the effects of a single chosen option.
type ChooseOneStep struct {
	Header  `yaml:",inline"`
	Choices []Choice `yaml:"choices"`
}

// CounterStep adjusts a named counter. Long-lived counters may be adjusted again
// after their first answer.
type CounterStep struct {
	Header    `yaml:",inline"`
	Section   string `yaml:"section,omitempty"`
	Key       string `yaml:"key,omitempty"`
	Bounds    `yaml:",inline"`
	LongLived bool `yaml:"long_lived,omitempty"`
}

// InvestigatorCounterStep adjusts one counter per investigator.
type InvestigatorCounterStep struct {
	Header  `yaml:",inline"`
	Section string `yaml:"section,omitempty"`
	Bounds  `yaml:",inline"`
}

// Supply is an item investigators may purchase.
type Supply struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	Cost int    `yaml:"cost,omitempty"`
}

// SuppliesStep lets each investigator buy supplies within a point budget.
type SuppliesStep struct {
	Header   `yaml:",inline"`
	Section  string   `yaml:"section"`
	Points   int      `yaml:"points,omitempty"`
	Supplies []Supply `yaml:"supplies"`
}

// UseSuppliesStep consumes a supply from the chosen investigators.
type UseSuppliesStep struct {
	Header   `yaml:",inline"`
	Section  string `yaml:"section"`
	Supply   string `yaml:"supply"`
	Quantity int    `yaml:"quantity,omitempty"`
}

// CardChoiceStep appends chosen card codes to a section.
type CardChoiceStep struct {
	Header  `yaml:",inline"`
	Section string `yaml:"section"`
	Bounds  `yaml:",inline"`
}

// InvestigatorChoiceStep records a bounded selection of investigators.
type InvestigatorChoiceStep struct {
	Header  `yaml:",inline"`
	Section string `yaml:"section,omitempty"`
	Bounds  `yaml:",inline"`
}

// InvestigatorChoiceSuppliesStep selects investigators holding a supply.
type InvestigatorChoiceSuppliesStep struct {
	Header   `yaml:",inline"`
	Section  string `yaml:"section"`
	Supply   string `yaml:"supply"`
	Quantity int    `yaml:"quantity,omitempty"`
	Bounds   `yaml:",inline"`
}

// UpgradeDecksStep marks the point where players spend experience.
type UpgradeDecksStep struct {
	Header `yaml:",inline"`
}

// PlayScenarioStep marks the point where the scenario is played.
type PlayScenarioStep struct {
	Header `yaml:",inline"`
}

// ScenarioInvestigatorsStep records who takes part in the scenario.
type ScenarioInvestigatorsStep struct {
	Header `yaml:",inline"`
}

// TextBoxStep records free text, optionally as a section entry.
type TextBoxStep struct {
	Header  `yaml:",inline"`
	Section string `yaml:"section,omitempty"`
}

// UnhandledStep stands in for content of an unknown type.
type UnhandledStep struct {
	Header `yaml:",inline"`
	Type   string `yaml:"type"`
}

func (ChooseOneStep) StepType() string                  { return TypeChooseOne }
func (CounterStep) StepType() string                    { return TypeCounter }
func (InvestigatorCounterStep) StepType() string        { return TypeInvestigatorCounter }
func (SuppliesStep) StepType() string                   { return TypeSupplies }
func (UseSuppliesStep) StepType() string                { return TypeUseSupplies }
func (CardChoiceStep) StepType() string                 { return TypeCardChoice }
func (InvestigatorChoiceStep) StepType() string         { return TypeInvestigatorChoice }
func (InvestigatorChoiceSuppliesStep) StepType() string { return TypeInvestigatorChoiceSupplies }
func (UpgradeDecksStep) StepType() string               { return TypeUpgradeDecks }
func (PlayScenarioStep) StepType() string               { return TypePlayScenario }
func (ScenarioInvestigatorsStep) StepType() string      { return TypeScenarioInvestigators }
func (TextBoxStep) StepType() string                    { return TypeTextBox }
func (s UnhandledStep) StepType() string                { return s.Type }

func (s ChooseOneStep) Accept(v StepVisitor)                  { v.VisitChooseOne(s) }
func (s CounterStep) Accept(v StepVisitor)                    { v.VisitCounter(s) }
func (s InvestigatorCounterStep) Accept(v StepVisitor)        { v.VisitInvestigatorCounter(s) }
func (s SuppliesStep) Accept(v StepVisitor)                   { v.VisitSupplies(s) }
func (s UseSuppliesStep) Accept(v StepVisitor)                { v.VisitUseSupplies(s) }
func (s CardChoiceStep) Accept(v StepVisitor)                 { v.VisitCardChoice(s) }
func (s InvestigatorChoiceStep) Accept(v StepVisitor)         { v.VisitInvestigatorChoice(s) }
func (s InvestigatorChoiceSuppliesStep) Accept(v StepVisitor) { v.VisitInvestigatorChoiceSupplies(s) }
func (s UpgradeDecksStep) Accept(v StepVisitor)               { v.VisitUpgradeDecks(s) }
func (s PlayScenarioStep) Accept(v StepVisitor)               { v.VisitPlayScenario(s) }
func (s ScenarioInvestigatorsStep) Accept(v StepVisitor)      { v.VisitScenarioInvestigators(s) }
func (s TextBoxStep) Accept(v StepVisitor)                    { v.VisitTextBox(s) }
func (s UnhandledStep) Accept(v StepVisitor)                  { v.VisitUnhandled(s) }

// Steps is an ordered step list decoded from YAML by its type discriminator.
type Steps []Step

// UnmarshalYAML decodes each step into its variant. Unknown types become
// UnhandledStep values rather than errors.
func (s *Steps) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("campaignlog: steps must be a sequence, got line %d", value.Line)
	}
	decoded := make(Steps, 0, len(value.Content))
	for _, node := range value.Content {
		step, err := decodeStep(node)
		if err != nil {
			return err
		}
		decoded = append(decoded, step)
	}
	*s = decoded
	return nil
}

func decodeStep(node *yaml.Node) (Step, error) {
	var discriminator struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&discriminator); err != nil {
		return nil, fmt.Errorf("campaignlog: step at line %d: %w", node.Line, err)
	}

	var step Step
	var err error
	switch discriminator.Type {
	case TypeChooseOne:
		step, err = decodeAs[ChooseOneStep](node)
	case TypeCounter:
		step, err = decodeAs[CounterStep](node)
	case TypeInvestigatorCounter:
		step, err = decodeAs[InvestigatorCounterStep](node)
	case TypeSupplies:
		step, err = decodeAs[SuppliesStep](node)
	case TypeUseSupplies:
		step, err = decodeAs[UseSuppliesStep](node)
	case TypeCardChoice:
		step, err = decodeAs[CardChoiceStep](node)
	case TypeInvestigatorChoice:
		step, err = decodeAs[InvestigatorChoiceStep](node)
	case TypeInvestigatorChoiceSupplies:
		step, err = decodeAs[InvestigatorChoiceSuppliesStep](node)
	case TypeUpgradeDecks:
		step, err = decodeAs[UpgradeDecksStep](node)
	case TypePlayScenario:
		step, err = decodeAs[PlayScenarioStep](node)
	case TypeScenarioInvestigators:
		step, err = decodeAs[ScenarioInvestigatorsStep](node)
	case TypeTextBox:
		step, err = decodeAs[TextBoxStep](node)
	default:
		step, err = decodeAs[UnhandledStep](node)
	}
	if err != nil {
		return nil, fmt.Errorf("campaignlog: %s step at line %d: %w", discriminator.Type, node.Line, err)
	}
	return step, nil
}

func decodeAs[T Step](node *yaml.Node) (Step, error) {
	var step T
	if err := node.Decode(&step); err != nil {
		return nil, err
	}
	return step, nil
}
