package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("business_id = ?", filter.BusinessID)

	for column, value := range map[string]string{
		"action":      filter.Action,
		"target_type": filter.TargetType,
		"target_id":   filter.TargetID,
	} {
		if value != "" {
			stmt = stmt.Where(column+" = ?", value)
		}
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

	var logs []domain.AuditLog
	err := stmt.Order("created_at DESC").Order("id DESC").Limit(filter.Limit + 1).Find(&logs).Error
	return logs, err
}
