package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"insightchat/internal/model"
)

type DatasetRepository struct {
	db *gorm.DB
}

func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) Create(dataset *model.Dataset) error {
	if err := r.db.Create(dataset).Error; err != nil {
		return fmt.Errorf("create dataset failed: %w", err)
	}
	return nil
}

// ListByIDsAndProjectID resolves dataset ids scoped to a project. Ids that do
// not resolve are simply absent from the result.
func (r *DatasetRepository) ListByIDsAndProjectID(ids []uint, projectID uint) ([]model.Dataset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var datasets []model.Dataset
	if err := r.db.
		Select("id", "project_id", "name", "location").
		Where("id IN ? AND project_id = ?", ids, projectID).
		Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("list datasets failed: %w", err)
	}
	return datasets, nil
}

func (r *DatasetRepository) GetByBlobKey(key string) (*model.Dataset, error) {
	var dataset model.Dataset
	if err := r.db.Where("blob_key = ?", key).First(&dataset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset by blob key failed: %w", err)
	}
	return &dataset, nil
}
