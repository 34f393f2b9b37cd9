// Package players maps session identities to the player ids that own decks and
// campaigns.
package players

import (
	"strings"
	"time"
)

// Player is the stored profile behind a provider login.
type Player struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null" json:"provider"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null" json:"-"`
	PlayerID    string    `gorm:"column:player_id;size:190;not null;index" json:"player_id"`
	Email       string    `gorm:"column:email;size:320" json:"email,omitempty"`
	DisplayName string    `gorm:"column:display_name;size:320" json:"display_name,omitempty"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName exposes the table backing player identities.
func (Player) TableName() string {
	return "players"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
