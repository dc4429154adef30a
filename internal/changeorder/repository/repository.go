package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/changeorder/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) NextNumber(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int, error) {
	var last int
	err := tx.WithContext(ctx).
		Model(&domain.ChangeOrder{}).
		Where("invoice_id = ?", invoiceID).
		Select("COALESCE(MAX(number), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, co *domain.ChangeOrder) error {
	return tx.WithContext(ctx).Create(co).Error
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID) (*domain.ChangeOrder, error) {
	var co domain.ChangeOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessID, id).
		First(&co).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &co, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, co *domain.ChangeOrder) error {
	return tx.WithContext(ctx).
		Model(co).
		Select("status", "approved_by", "approved_at", "rejected_by", "rejected_at", "updated_at").
		Updates(co).Error
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, businessID, invoiceID snowflake.ID) ([]domain.ChangeOrder, error) {
	var out []domain.ChangeOrder
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessID, invoiceID).
		Order("number ASC").
		Find(&out).Error
	return out, err
}
