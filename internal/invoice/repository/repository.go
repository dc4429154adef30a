package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// NextSequence bumps the counter row with an in-database increment. The row
// stays locked until tx ends, so a rollback also returns the number and the
// sequence has no gaps.
func (r *repo) NextSequence(ctx context.Context, tx *gorm.DB, businessID snowflake.ID) (int64, error) {
	now := time.Now().UTC()
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Sequence{BusinessID: businessID, LastNumber: 0, UpdatedAt: now}).Error
	if err != nil {
		return 0, err
	}

	err = tx.WithContext(ctx).
		Model(&domain.Sequence{}).
		Where("business_id = ?", businessID).
		UpdateColumns(map[string]any{
			"last_number": gorm.Expr("last_number + 1"),
			"updated_at":  now,
		}).Error
	if err != nil {
		return 0, err
	}

	var seq domain.Sequence
	if err := tx.WithContext(ctx).Where("business_id = ?", businessID).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.LastNumber, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	return tx.WithContext(ctx).Create(inv).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*domain.Invoice, error) {
	return first(db.WithContext(ctx).Where("business_id = ? AND id = ?", businessID, id))
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID) (*domain.Invoice, error) {
	return first(tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessID, id))
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Invoice, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrNotFound
	}
	return first(db.WithContext(ctx).Where("viewing_token = ?", token))
}

func first(stmt *gorm.DB) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := stmt.First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	return tx.WithContext(ctx).
		Model(inv).
		Select("*").
		Omit("id", "business_id", "sequence", "invoice_number", "created_by", "created_at").
		Updates(inv).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Invoice, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where("business_id = ?", filter.BusinessID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, filter.Cursor.CreatedAt)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var invoices []domain.Invoice
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(filter.Limit + 1).Find(&invoices).Error
	return invoices, err
}

func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, from domain.Status, dueBefore, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("status = ? AND due_date < ?", from, dueBefore).
		UpdateColumns(map[string]any{
			"status":     domain.StatusOverdue,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.LineItem, error) {
	var items []domain.LineItem
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("sort_order ASC").Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) ReplaceLineItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, items []domain.LineItem) error {
	if err := tx.WithContext(ctx).Where("invoice_id = ?", invoiceID).Delete(&domain.LineItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *repo) AppendLineItem(ctx context.Context, tx *gorm.DB, item *domain.LineItem) error {
	return tx.WithContext(ctx).Create(item).Error
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("payment_date ASC").Order("id ASC").
		Find(&payments).Error
	return payments, err
}
