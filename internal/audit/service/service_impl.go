package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) AuditLog(ctx context.Context, businessID snowflake.ID, action string, targetType string, targetID string, metadata map[string]any) error {
	if businessID == 0 {
		return auditdomain.ErrInvalidBusiness
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if targetType = strings.TrimSpace(targetType); targetType == "" {
		targetType = "unknown"
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		BusinessID: businessID,
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(targetID),
		Metadata:   buildMetadata(ctx, metadata),
		CreatedAt:  s.clock.Now(),
	}
	if actor, ok := orgcontext.ActorFromContext(ctx); ok && !actor.IsZero() && actor.Role != orgcontext.RoleSystem {
		entry.ActorType = auditdomain.ActorTypeUser
		entry.ActorID = optional(actor.ID)
		entry.ActorRole = optional(actor.Role)
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		logger.WithContext(ctx, s.log).Warn("write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, businessID snowflake.ID, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if businessID == 0 {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidBusiness
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		BusinessID: businessID,
		Action:     strings.TrimSpace(req.Action),
		TargetType: strings.TrimSpace(req.TargetType),
		TargetID:   strings.TrimSpace(req.TargetID),
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	logs, info := pagination.Page(rows, limit, func(entry auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: entry.ID.String(), CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return auditdomain.ListAuditLogResponse{PageInfo: info, AuditLogs: logs}, nil
}

// buildMetadata copies non-empty keys and stamps the request id.
func buildMetadata(ctx context.Context, in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range in {
		if key != "" {
			out[key] = value
		}
	}
	if requestID := orgcontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	return out
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
