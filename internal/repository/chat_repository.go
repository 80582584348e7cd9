package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"insightchat/internal/model"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(chat *model.Chat) error {
	if err := r.db.Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByIDAndProjectID(chatID, projectID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.Where("id = ? AND project_id = ?", chatID, projectID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

// LatestByProjectID returns the most recently touched chat of the project, or
// nil when the project has no chats yet.
func (r *ChatRepository) LatestByProjectID(projectID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.Where("project_id = ?", projectID).Order("updated_at DESC").First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest chat failed: %w", err)
	}
	return &chat, nil
}

func (r *ChatRepository) Rename(chatID uint, title string) error {
	if err := r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("title", title).Error; err != nil {
		return fmt.Errorf("rename chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) Touch(chatID uint) error {
	if err := r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		return fmt.Errorf("touch chat failed: %w", err)
	}
	return nil
}
