package models

import "time"

// LedgerEntry is one immutable point-awarding event. Rows are only ever
// inserted — never updated or deleted — so the table doubles as the audit
// trail and the source of truth for every derived score.
type LedgerEntry struct {
	ID             string    `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string    `gorm:"index;not null" json:"external_user_id"`
	Points         int64     `gorm:"not null" json:"points"` // signed: corrections are negative entries
	Reason         string    `gorm:"type:varchar(255);index" json:"reason"`
	Category       *string   `gorm:"index" json:"category,omitempty"` // challenge category slug, nil for non-challenge awards
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
