package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*domain.BillingState, error) {
	var state domain.BillingState
	err := db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, businessID snowflake.ID) (*domain.BillingState, error) {
	var state domain.BillingState
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, state *domain.BillingState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return db.WithContext(ctx).Create(state).Error
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, state *domain.BillingState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(state).
		Select("*").
		Omit("business_id", "created_at").
		Updates(state).Error
}

func (r *repo) ListWithSubscription(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.BillingState, error) {
	var states []domain.BillingState
	err := db.WithContext(ctx).
		Where("external_subscription_ref IS NOT NULL AND business_id > ?", afterID).
		Order("business_id ASC").
		Limit(limit).
		Find(&states).Error
	return states, err
}
