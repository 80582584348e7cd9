package model

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a chat. The log is append-only: rows are never
// edited after creation (the retention worker only clears attachment blobs).
// SelectedDatasetIDs is stored as a JSON array of strings for portability.
type Message struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	ChatID             uint         `gorm:"not null;index" json:"chat_id"`
	Role               string       `gorm:"size:16;not null;index" json:"role"`
	Content            string       `gorm:"type:text" json:"content"`
	SelectedDatasetIDs string       `gorm:"type:text" json:"-"`
	Attachments        []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// DatasetIDs returns the parsed selected-dataset slice; empty on parse error.
func (m *Message) DatasetIDs() []string {
	if m.SelectedDatasetIDs == "" {
		return nil
	}
	var ids []string
	_ = json.Unmarshal([]byte(m.SelectedDatasetIDs), &ids)
	return ids
}

// SetDatasetIDs stores the selected-dataset slice as JSON.
func (m *Message) SetDatasetIDs(ids []string) {
	if len(ids) == 0 {
		m.SelectedDatasetIDs = "[]"
		return
	}
	b, _ := json.Marshal(ids)
	m.SelectedDatasetIDs = string(b)
}

// Attachment is a tabular file uploaded with a user message. RawContent may be
// cleared once the bytes have been copied into a registered dataset.
type Attachment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	MessageID    uint      `gorm:"not null;index" json:"message_id"`
	DatasetID    uint      `gorm:"index" json:"dataset_id,omitempty"`
	OriginalName string    `gorm:"size:256;not null" json:"original_name"`
	MediaType    string    `gorm:"size:128;not null" json:"media_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	RawContent   []byte    `gorm:"type:longblob" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Retained reports whether the attachment still carries its raw bytes.
func (a *Attachment) Retained() bool {
	return len(a.RawContent) > 0
}
