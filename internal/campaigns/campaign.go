// Package campaigns stores campaign logs and applies guide steps to them one
// campaign at a time.
package campaigns

import (
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"gorm.io/datatypes"
)

// RecordedAnswer is one accepted answer, kept in the order it was applied.
type RecordedAnswer struct {
	StepID string             `json:"step_id"`
	Answer campaignlog.Answer `json:"answer"`
}

// Campaign is a player's run through a campaign guide.
type Campaign struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	GuideID   string           `json:"guide_id"`
	Name      string           `json:"name"`
	Log       campaignlog.Log  `json:"log"`
	Answers   []RecordedAnswer `json:"answers"`
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// CampaignRecord persists a campaign with its log and answer history as JSON.
type CampaignRecord struct {
	ID               string                              `gorm:"column:id;primaryKey;size:64;not null"`
	OwnerID          string                              `gorm:"column:owner_id;size:190;not null;index"`
	GuideID          string                              `gorm:"column:guide_id;size:128;not null"`
	Name             string                              `gorm:"column:name;size:255;not null;default:''"`
	Version          int                                 `gorm:"column:version;not null"`
	Log              datatypes.JSONType[campaignlog.Log] `gorm:"column:log_json;not null"`
	Answers          datatypes.JSONSlice[RecordedAnswer] `gorm:"column:answers_json;not null"`
	CreatedAtSeconds int64                               `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64                               `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CampaignRecord) TableName() string {
	return "campaigns"
}

func newCampaignRecord(campaign Campaign) CampaignRecord {
	answers := campaign.Answers
	if answers == nil {
		answers = []RecordedAnswer{}
	}
	return CampaignRecord{
		ID:               campaign.ID,
		OwnerID:          campaign.OwnerID,
		GuideID:          campaign.GuideID,
		Name:             campaign.Name,
		Version:          campaign.Version,
		Log:              datatypes.NewJSONType(campaign.Log),
		Answers:          datatypes.NewJSONSlice(answers),
		CreatedAtSeconds: campaign.CreatedAt.Unix(),
		UpdatedAtSeconds: campaign.UpdatedAt.Unix(),
	}
}

func (r CampaignRecord) campaign() Campaign {
	answers := []RecordedAnswer(r.Answers)
	if answers == nil {
		answers = []RecordedAnswer{}
	}
	return Campaign{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		GuideID:   r.GuideID,
		Name:      r.Name,
		Log:       r.Log.Data().Clone(),
		Answers:   answers,
		Version:   r.Version,
		CreatedAt: time.Unix(r.CreatedAtSeconds, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAtSeconds, 0).UTC(),
	}
}

// GuideSet indexes loaded guides by id.
type GuideSet map[string]campaignlog.Guide

// Guide returns the guide with the given id.
func (g GuideSet) Guide(id string) (campaignlog.Guide, bool) {
	guide, ok := g[id]
	return guide, ok
}
