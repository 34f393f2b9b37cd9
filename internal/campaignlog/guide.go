package campaignlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidGuide indicates guide content that cannot be played.
	ErrInvalidGuide = errors.New("campaignlog: invalid guide")
	// ErrStepNotFound indicates a step id absent from the guide.
	ErrStepNotFound = errors.New("campaignlog: step not found")
	// ErrOutOfOrder indicates an attempt to answer a step ahead of the pending one.
	ErrOutOfOrder = errors.New("campaignlog: step out of order")
)

// Guide is the ordered step list of a campaign.
type Guide struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Steps Steps  `yaml:"steps"`
}

// ParseGuide decodes a YAML guide and checks that step ids are present and unique.
func ParseGuide(data []byte) (Guide, error) {
	var guide Guide
	if err := yaml.Unmarshal(data, &guide); err != nil {
		return Guide{}, fmt.Errorf("%w: %v", ErrInvalidGuide, err)
	}
	if strings.TrimSpace(guide.ID) == "" {
		return Guide{}, fmt.Errorf("%w: missing id", ErrInvalidGuide)
	}
	seen := make(map[string]bool, len(guide.Steps))
	for index, step := range guide.Steps {
		id := step.StepID()
		if id == "" {
			return Guide{}, fmt.Errorf("%w: step %d has no id", ErrInvalidGuide, index)
		}
		if seen[id] {
			return Guide{}, fmt.Errorf("%w: duplicate step %q", ErrInvalidGuide, id)
		}
		seen[id] = true
	}
	return guide, nil
}

// Step returns the step with the given id.
func (g Guide) Step(id string) (Step, bool) {
	for _, step := range g.Steps {
		if step.StepID() == id {
			return step, true
		}
	}
	return nil, false
}

// NextPending returns the first step the log has not answered. Steps are answered
// strictly in order, so later steps are never offered before it.
func (g Guide) NextPending(log Log) (Step, bool) {
	for _, step := range g.Steps {
		if !log.IsAnswered(step.StepID()) {
			return step, true
		}
	}
	return nil, false
}

// Accepts resolves a step that may be answered now: the next pending step, or a
// step answered earlier, which Apply then treats as repeatable or already answered.
func (g Guide) Accepts(log Log, stepID string) (Step, error) {
	step, ok := g.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStepNotFound, stepID)
	}
	if log.IsAnswered(stepID) {
		return step, nil
	}
	pending, ok := g.NextPending(log)
	if !ok || pending.StepID() != stepID {
		return nil, fmt.Errorf("%w: %q is out of order", ErrOutOfOrder, stepID)
	}
	return step, nil
}

// ReplayResult is the log rebuilt from recorded answers.
type ReplayResult struct {
	Log      Log       `json:"log"`
	Outcomes []Outcome `json:"outcomes"`
	Pending  string    `json:"pending,omitempty"`
}

// Replay folds the answers into an empty log in guide order and stops at the first
// step without an answer or whose answer is not applied.
func (g Guide) Replay(answers map[string]Answer) ReplayResult {
	result := ReplayResult{Log: New()}
	for _, step := range g.Steps {
		answer, ok := answers[step.StepID()]
		if !ok {
			result.Pending = step.StepID()
			return result
		}
		next, outcome := Apply(result.Log, step, answer)
		result.Outcomes = append(result.Outcomes, outcome)
		if !outcome.Applied() {
			result.Pending = step.StepID()
			return result
		}
		result.Log = next
	}
	return result
}

// LoadGuides parses every *.yaml file in dir concurrently and indexes the guides by id.
func LoadGuides(ctx context.Context, dir string) (map[string]Guide, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	parsed := make([]Guide, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, path := range paths {
		index, path := index, path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			guide, err := ParseGuide(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			parsed[index] = guide
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	guides := make(map[string]Guide, len(parsed))
	for index, guide := range parsed {
		if _, exists := guides[guide.ID]; exists {
			return nil, fmt.Errorf("%s: %w: duplicate guide %q", paths[index], ErrInvalidGuide, guide.ID)
		}
		guides[guide.ID] = guide
	}
	return guides, nil
}
