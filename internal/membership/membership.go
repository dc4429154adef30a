// Package membership reads active member counts owned by the workspace
// membership module. Billing never writes these rows.
package membership

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("membership",
	fx.Provide(NewCounter),
)

type Counter interface {
	CountActive(ctx context.Context, businessID snowflake.ID) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context, businessID snowflake.ID) (int, error)

func (f CounterFunc) CountActive(ctx context.Context, businessID snowflake.ID) (int, error) {
	return f(ctx, businessID)
}

const StatusActive = "active"

// Member mirrors the business_members table.
type Member struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	BusinessID snowflake.ID `gorm:"not null;index"`
	UserID     string       `gorm:"type:varchar(255);not null"`
	Role       string       `gorm:"type:varchar(32);not null"`
	Status     string       `gorm:"type:varchar(32);not null"`
	CreatedAt  time.Time
}

func (Member) TableName() string { return "business_members" }

type gormCounter struct {
	db *gorm.DB
}

func NewCounter(db *gorm.DB) Counter {
	return &gormCounter{db: db}
}

func (c *gormCounter) CountActive(ctx context.Context, businessID snowflake.ID) (int, error) {
	var count int64
	err := c.db.WithContext(ctx).
		Model(&Member{}).
		Where("business_id = ? AND status = ?", businessID, StatusActive).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
