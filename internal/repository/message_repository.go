package repository

import (
	"fmt"

	"gorm.io/gorm"

	"insightchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message (with its attachments) to the chat's log.
func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListByChatID returns the chat's full history in creation order.
func (r *MessageRepository) ListByChatID(chatID uint) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Preload("Attachments").
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ClearAttachmentContentByChatID drops retained raw bytes for every attachment
// in the chat. Used by the retention worker after upload bytes have been copied
// into registered datasets.
func (r *MessageRepository) ClearAttachmentContentByChatID(chatID uint) error {
	sub := r.db.Model(&model.Message{}).Select("id").Where("chat_id = ?", chatID)
	if err := r.db.Model(&model.Attachment{}).
		Where("message_id IN (?)", sub).
		Update("raw_content", nil).Error; err != nil {
		return fmt.Errorf("clear attachment content failed: %w", err)
	}
	return nil
}
