package model

import "time"

type Organization struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Team struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index" json:"organization_id"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// TeamMember is one membership row; a user may belong to several teams.
type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"not null;index:idx_team_user,unique" json:"team_id"`
	UserID    uint      `gorm:"not null;index:idx_team_user,unique" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
