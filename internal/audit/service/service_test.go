package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/audit/repository"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Clock: clk}), clk
}

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := orgcontext.WithActor(context.Background(), orgcontext.Actor{ID: "user_1", Role: "admin"})
	ctx = orgcontext.WithRequestID(ctx, "req-1")

	require.NoError(t, svc.AuditLog(ctx, snowflake.ID(1), "invoice.sent", "invoice", "42", map[string]any{"number": "INV-00001"}))

	resp, err := svc.List(context.Background(), snowflake.ID(1), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActorTypeUser, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user_1", *entry.ActorID)
	require.NotNil(t, entry.ActorRole)
	assert.Equal(t, "admin", *entry.ActorRole)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
}

func TestAuditLogSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := orgcontext.WithActor(context.Background(), orgcontext.SystemActor)

	require.NoError(t, svc.AuditLog(ctx, snowflake.ID(3), "invoice.overdue", "invoice", "7", nil))

	resp, err := svc.List(context.Background(), snowflake.ID(3), auditdomain.ListAuditLogRequest{Action: "invoice.overdue"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActorTypeSystem, resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), snowflake.ID(1), " ", "invoice", "", nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		require.NoError(t, svc.AuditLog(ctx, snowflake.ID(2), "invoice.created", "invoice", "", nil))
	}

	first, err := svc.List(ctx, snowflake.ID(2), auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)

	second, err := svc.List(ctx, snowflake.ID(2), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, snowflake.ID(2), auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
