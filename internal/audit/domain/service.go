package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// AuditLog records one user or system action against a business resource.
// Rows are append-only.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BusinessID snowflake.ID      `gorm:"not null;index:idx_audit_logs_business_created" json:"business_id"`
	ActorType  string            `gorm:"type:varchar(32);not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:varchar(255)" json:"actor_id,omitempty"`
	ActorRole  *string           `gorm:"type:varchar(32)" json:"actor_role,omitempty"`
	Action     string            `gorm:"type:varchar(64);not null" json:"action"`
	TargetType string            `gorm:"type:varchar(64);not null" json:"target_type"`
	TargetID   *string           `gorm:"type:varchar(64)" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt  time.Time         `gorm:"not null;index:idx_audit_logs_business_created" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	BusinessID snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Cursor     *pagination.Cursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	// List returns up to Limit+1 rows, newest first.
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// AuditLog takes the actor and request id from ctx.
	AuditLog(ctx context.Context, businessID snowflake.ID, action string, targetType string, targetID string, metadata map[string]any) error
	List(ctx context.Context, businessID snowflake.ID, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidBusiness  = billingerr.Validation("invalid_business", "business_id", "A business is required")
	ErrInvalidPageToken = billingerr.Validation("invalid_page_token", "page_token", "The page token is invalid")
	ErrInvalidAction    = billingerr.Validation("invalid_action", "action", "An audit action is required")
)
