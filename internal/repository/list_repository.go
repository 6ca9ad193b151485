package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/model"
)

type ListRepository interface {
	Create(ctx context.Context, item *model.ListItem) error
	Delete(ctx context.Context, userID string, mediaType model.MediaType, mediaID int64) error
	ListByType(ctx context.Context, userID string, mediaType model.MediaType) ([]*model.ListItem, error)
}

type listRepository struct{ db *gorm.DB }

func NewListRepository(db *gorm.DB) ListRepository { return &listRepository{db: db} }

// Create 已存在则返回 Conflict，不覆盖
func (r *listRepository) Create(ctx context.Context, item *model.ListItem) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item)
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrConflict
	}
	return nil
}

func (r *listRepository) Delete(ctx context.Context, userID string, mediaType model.MediaType, mediaID int64) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ? AND media_id = ?", userID, mediaType, mediaID).
		Delete(&model.ListItem{})
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *listRepository) ListByType(ctx context.Context, userID string, mediaType model.MediaType) ([]*model.ListItem, error) {
	var res []*model.ListItem
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND media_type = ?", userID, mediaType).
		Order("created_at, media_id").
		Find(&res).Error
	return res, wrapErr(err)
}
