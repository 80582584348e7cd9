package model

import "time"

type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    uint      `gorm:"not null;index" json:"team_id"`
	Team      *Team     `json:"-"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dataset is a registry entry resolvable to a name and a retrieval location.
// BlobKey and Content are set only for datasets registered from chat uploads;
// externally managed datasets carry just a Location URL.
type Dataset struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;index" json:"project_id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Location  string    `gorm:"size:512;not null" json:"location"`
	BlobKey   string    `gorm:"size:64;index" json:"-"`
	Content   []byte    `gorm:"type:longblob" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
