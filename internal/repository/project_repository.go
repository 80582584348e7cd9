package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"insightchat/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// GetWithTeam loads a project together with its owning team.
func (r *ProjectRepository) GetWithTeam(projectID uint) (*model.Project, error) {
	var project model.Project
	if err := r.db.Preload("Team").First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project failed: %w", err)
	}
	return &project, nil
}

func (r *ProjectRepository) IsTeamMember(teamID, userID uint) (bool, error) {
	var count int64
	if err := r.db.Model(&model.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check team membership failed: %w", err)
	}
	return count > 0, nil
}
