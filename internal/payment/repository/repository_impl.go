package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (*domain.EventRecord, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event).Error
	if err != nil {
		return nil, err
	}

	var stored domain.EventRecord
	err = db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, businessID *snowflake.ID, at time.Time) error {
	updates := map[string]any{"processed_at": at}
	if businessID != nil {
		updates["business_id"] = *businessID
	}
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
