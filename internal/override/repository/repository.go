package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/override/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.BillingOverride) error {
	if entry == nil || entry.ID == 0 || entry.BusinessID == 0 || entry.ActionType == "" {
		return domain.ErrInvalidEntry
	}
	if entry.IsActive && !entry.ActionType.Toggleable() {
		return domain.ErrInvalidEntry
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) DeactivateActive(ctx context.Context, db *gorm.DB, businessID snowflake.ID, actionType domain.ActionType) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.BillingOverride{}).
		Where("business_id = ? AND action_type = ? AND is_active = ?", businessID, actionType, true).
		UpdateColumn("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, businessID snowflake.ID, actionType domain.ActionType) (*domain.BillingOverride, error) {
	var entry domain.BillingOverride
	err := db.WithContext(ctx).
		Where("business_id = ? AND action_type = ? AND is_active = ?", businessID, actionType, true).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoActive
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, businessID snowflake.ID) ([]domain.BillingOverride, error) {
	var entries []domain.BillingOverride
	err := db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	return entries, err
}
