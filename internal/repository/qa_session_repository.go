package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"claridoc/internal/model"
)

type QASessionRepository struct {
	db *gorm.DB
}

func NewQASessionRepository(db *gorm.DB) *QASessionRepository {
	return &QASessionRepository{db: db}
}

func (r *QASessionRepository) Create(session *model.QASession) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create qa session failed: %w", err)
	}
	return nil
}

func (r *QASessionRepository) GetByIDAndUserID(id, userID uint) (*model.QASession, error) {
	var session model.QASession
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get qa session failed: %w", err)
	}
	return &session, nil
}

func (r *QASessionRepository) ListByUserID(userID uint) ([]model.QASession, error) {
	var list []model.QASession
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list qa sessions failed: %w", err)
	}
	return list, nil
}
