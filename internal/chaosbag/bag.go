// Package chaosbag tracks the per-campaign chaos bag: bless and curse tokens,
// the last draw and sealed tokens.
package chaosbag

import (
	"errors"
	"fmt"
)

// MaxBlessCurse is the number of bless or curse tokens available.
const MaxBlessCurse = 10

// ErrUnknownAction indicates an action name outside the supported set.
var ErrUnknownAction = errors.New("chaosbag: unknown action")

// SealedToken is a token set aside on a card.
type SealedToken struct {
	ID   string `json:"id"`
	Icon string `json:"icon"`
}

// Results is the chaos bag state of one campaign.
type Results struct {
	Bless      int           `json:"bless"`
	Curse      int           `json:"curse"`
	Drawn      []string      `json:"drawn"`
	Sealed     []SealedToken `json:"sealed"`
	TotalDrawn int           `json:"total_drawn"`
	Version    int           `json:"version"`
}

// Action names a chaos bag mutation.
type Action string

const (
	ActionBlessInc        Action = "bless-inc"
	ActionBlessDec        Action = "bless-dec"
	ActionCurseInc        Action = "curse-inc"
	ActionCurseDec        Action = "curse-dec"
	ActionDraw            Action = "draw"
	ActionSeal            Action = "seal"
	ActionReleaseSealed   Action = "release-sealed"
	ActionResetBlessCurse Action = "reset-bless-curse"
	ActionClear           Action = "clear"
)

// ParseAction validates an action name.
func ParseAction(raw string) (Action, error) {
	action := Action(raw)
	switch action {
	case ActionBlessInc, ActionBlessDec, ActionCurseInc, ActionCurseDec,
		ActionDraw, ActionSeal, ActionReleaseSealed, ActionResetBlessCurse, ActionClear:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, raw)
	}
}

// Payload carries the inputs some actions need.
type Payload struct {
	Drawn  []string      `json:"drawn,omitempty"`
	Sealed []SealedToken `json:"sealed,omitempty"`
	Bless  int           `json:"bless,omitempty"`
	Curse  int           `json:"curse,omitempty"`
}

// Apply returns the state after action, with the version incremented. Bless and
// curse counts never leave [0, MaxBlessCurse].
func Apply(results Results, action Action, payload Payload) (Results, error) {
	next := results.clone()
	switch action {
	case ActionBlessInc:
		next.Bless = clampTokens(next.Bless + 1)
	case ActionBlessDec:
		next.Bless = clampTokens(next.Bless - 1)
	case ActionCurseInc:
		next.Curse = clampTokens(next.Curse + 1)
	case ActionCurseDec:
		next.Curse = clampTokens(next.Curse - 1)
	case ActionDraw:
		next.Drawn = append([]string{}, payload.Drawn...)
		next.TotalDrawn++
	case ActionSeal:
		next.Sealed = append([]SealedToken{}, payload.Sealed...)
	case ActionReleaseSealed:
		next.Sealed = []SealedToken{}
	case ActionResetBlessCurse:
		next.Drawn = append([]string{}, payload.Drawn...)
		next.Sealed = append([]SealedToken{}, payload.Sealed...)
		next.Bless = 0
		next.Curse = 0
	case ActionClear:
		next.Bless = clampTokens(payload.Bless)
		next.Curse = clampTokens(payload.Curse)
		next.Drawn = []string{}
	default:
		return results, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	next.Version++
	return next, nil
}

func clampTokens(value int) int {
	if value < 0 {
		return 0
	}
	if value > MaxBlessCurse {
		return MaxBlessCurse
	}
	return value
}

func (r Results) clone() Results {
	copied := r
	copied.Bless = clampTokens(r.Bless)
	copied.Curse = clampTokens(r.Curse)
	copied.Drawn = append([]string{}, r.Drawn...)
	copied.Sealed = append([]SealedToken{}, r.Sealed...)
	return copied
}
