package models

import (
	"time"

	"gorm.io/gorm"
)

// CitizenUser is a local snapshot of user data needed for gamification.
// Owned and managed solely by the gamification service.
// Populated via sync worker from the Profile Service's user table.
type CitizenUser struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID    string     `gorm:"uniqueIndex;not null" json:"external_user_id"` // The profile service's UUID
	Username          string     `gorm:"index;not null" json:"username"`
	Email             string     `json:"email,omitempty"`
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty"`
	City              *string    `json:"city,omitempty"`
	Bio               *string    `json:"bio,omitempty"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	LastSeen *time.Time `json:"last_seen,omitempty"`
	IsBanned bool       `json:"is_banned" gorm:"default:false"` // local moderation ban

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
