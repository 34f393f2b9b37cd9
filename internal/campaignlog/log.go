// Package campaignlog threads a campaign log through the steps of a guided campaign.
// The engine is pure: Apply returns a new Log and never modifies its input.
package campaignlog

import "sort"

// CountKey is the counter key used when a step does not name one.
const CountKey = "$count"

// Entry is one recorded line of a log section.
type Entry struct {
	ID         string `json:"id" yaml:"id"`
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	Count      int    `json:"count,omitempty" yaml:"count,omitempty"`
	CrossedOut bool   `json:"crossed_out,omitempty" yaml:"crossed_out,omitempty"`
}

// Section is a named list of entries. A crossed-out section stays readable.
type Section struct {
	Entries    []Entry `json:"entries"`
	CrossedOut bool    `json:"crossed_out,omitempty"`
}

// Entry returns the entry with the given id.
func (s Section) Entry(id string) (Entry, bool) {
	for _, entry := range s.Entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

func (s Section) clone() Section {
	return Section{Entries: append([]Entry(nil), s.Entries...), CrossedOut: s.CrossedOut}
}

// Log is the accumulated state of a campaign. Keys are opaque strings defined by
// campaign content.
type Log struct {
	Sections             map[string]Section            `json:"sections"`
	Counts               map[string]map[string]int     `json:"counts"`
	Decisions            map[string]bool               `json:"decisions"`
	InvestigatorSections map[string]map[string]Section `json:"investigator_sections"`
	InvestigatorChoices  map[string][]string           `json:"investigator_choices"`
	Choices              map[string]int                `json:"choices"`
	Texts                map[string]string             `json:"texts"`
	Investigators        []string                      `json:"investigators"`
	Answered             map[string]bool               `json:"answered"`
}

// New returns an empty log.
func New() Log {
	return Log{}.Clone()
}

// Count returns the counter value, zero when absent.
func (l Log) Count(sectionID, key string) int {
	if key == "" {
		key = CountKey
	}
	return l.Counts[sectionID][key]
}

// Decision returns the recorded decision and whether it was set.
func (l Log) Decision(id string) (bool, bool) {
	value, ok := l.Decisions[id]
	return value, ok
}

// Section returns a copy of the named section.
func (l Log) Section(id string) (Section, bool) {
	section, ok := l.Sections[id]
	if !ok {
		return Section{}, false
	}
	return section.clone(), true
}

// InvestigatorSection returns a copy of an investigator's part of a section.
func (l Log) InvestigatorSection(sectionID, investigator string) (Section, bool) {
	section, ok := l.InvestigatorSections[sectionID][investigator]
	if !ok {
		return Section{}, false
	}
	return section.clone(), true
}

// InvestigatorChoice returns the investigators recorded for a step.
func (l Log) InvestigatorChoice(stepID string) ([]string, bool) {
	codes, ok := l.InvestigatorChoices[stepID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), codes...), true
}

// Choice returns the option index chosen for a choose_one step.
func (l Log) Choice(stepID string) (int, bool) {
	index, ok := l.Choices[stepID]
	return index, ok
}

// Text returns the free text recorded for a step.
func (l Log) Text(stepID string) (string, bool) {
	text, ok := l.Texts[stepID]
	return text, ok
}

// IsAnswered reports whether the step has already been applied.
func (l Log) IsAnswered(stepID string) bool {
	return l.Answered[stepID]
}

// HasInvestigator reports whether the code is part of the scenario investigators.
func (l Log) HasInvestigator(code string) bool {
	for _, investigator := range l.Investigators {
		if investigator == code {
			return true
		}
	}
	return false
}

// AnsweredSteps returns the answered step ids in ascending order.
func (l Log) AnsweredSteps() []string {
	ids := make([]string, 0, len(l.Answered))
	for id, answered := range l.Answered {
		if answered {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy with every region allocated.
func (l Log) Clone() Log {
	clone := Log{
		Sections:             make(map[string]Section, len(l.Sections)),
		Counts:               make(map[string]map[string]int, len(l.Counts)),
		Decisions:            make(map[string]bool, len(l.Decisions)),
		InvestigatorSections: make(map[string]map[string]Section, len(l.InvestigatorSections)),
		InvestigatorChoices:  make(map[string][]string, len(l.InvestigatorChoices)),
		Choices:              make(map[string]int, len(l.Choices)),
		Texts:                make(map[string]string, len(l.Texts)),
		Investigators:        append([]string{}, l.Investigators...),
		Answered:             make(map[string]bool, len(l.Answered)),
	}
	for id, section := range l.Sections {
		clone.Sections[id] = section.clone()
	}
	for id, counters := range l.Counts {
		copied := make(map[string]int, len(counters))
		for key, value := range counters {
			copied[key] = value
		}
		clone.Counts[id] = copied
	}
	for id, value := range l.Decisions {
		clone.Decisions[id] = value
	}
	for id, byInvestigator := range l.InvestigatorSections {
		copied := make(map[string]Section, len(byInvestigator))
		for investigator, section := range byInvestigator {
			copied[investigator] = section.clone()
		}
		clone.InvestigatorSections[id] = copied
	}
	for id, codes := range l.InvestigatorChoices {
		clone.InvestigatorChoices[id] = append([]string(nil), codes...)
	}
	for id, index := range l.Choices {
		clone.Choices[id] = index
	}
	for id, text := range l.Texts {
		clone.Texts[id] = text
	}
	for id, answered := range l.Answered {
		clone.Answered[id] = answered
	}
	return clone
}

func (l *Log) setCount(sectionID, key string, value int) {
	if key == "" {
		key = CountKey
	}
	counters, ok := l.Counts[sectionID]
	if !ok {
		counters = make(map[string]int)
		l.Counts[sectionID] = counters
	}
	counters[key] = value
}

// appendEntry adds an entry or, when an entry with the same id exists, replaces it.
func (l *Log) appendEntry(sectionID string, entry Entry) {
	section := l.Sections[sectionID]
	for index, existing := range section.Entries {
		if existing.ID == entry.ID {
			section.Entries[index] = entry
			l.Sections[sectionID] = section
			return
		}
	}
	section.Entries = append(section.Entries, entry)
	l.Sections[sectionID] = section
}

func (l *Log) crossOut(sectionID, entryID string) {
	section, ok := l.Sections[sectionID]
	if !ok {
		return
	}
	if entryID == "" {
		section.CrossedOut = true
	}
	for index := range section.Entries {
		if section.Entries[index].ID == entryID {
			section.Entries[index].CrossedOut = true
		}
	}
	l.Sections[sectionID] = section
}

func (l *Log) investigatorSection(sectionID, investigator string) Section {
	return l.InvestigatorSections[sectionID][investigator]
}

func (l *Log) setInvestigatorSection(sectionID, investigator string, section Section) {
	byInvestigator, ok := l.InvestigatorSections[sectionID]
	if !ok {
		byInvestigator = make(map[string]Section)
		l.InvestigatorSections[sectionID] = byInvestigator
	}
	byInvestigator[investigator] = section
}
