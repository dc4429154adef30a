package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/plan"
	"github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tenant/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&domain.BillingState{}))

	catalog, err := plan.NewStaticCatalog(plan.DefaultConfigs())
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		Repo:    repository.Provide(),
		Catalog: catalog,
		Clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	}).(*Service)
	return svc, conn
}

func TestEnsureCreatesFreeDefaultsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ensure(ctx, snowflake.ID(10))
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, first.Tier)
	assert.Equal(t, domain.StatusNone, first.SubscriptionStatus)
	assert.Equal(t, 3, first.IncludedSeats)
	assert.Nil(t, first.ExternalSubscriptionRef)

	second, err := svc.Ensure(ctx, snowflake.ID(10))
	require.NoError(t, err)
	assert.Equal(t, first.BusinessID, second.BusinessID)
}

func TestGetUnknownBusiness(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), snowflake.ID(99))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachSubscriptionAndPeriodEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	state, err := svc.AttachSubscription(ctx, snowflake.ID(7), domain.AttachSubscriptionRequest{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		Tier:            plan.TierPro,
		Status:          "trialing",
	})
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier)
	assert.Equal(t, domain.StatusTrialing, state.SubscriptionStatus)
	assert.Equal(t, 5, state.IncludedSeats)
	assert.Equal(t, "sub_1", state.SubscriptionRef())

	ended, err := svc.HandlePeriodEnd(ctx, snowflake.ID(7))
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, ended.Tier)
	assert.Equal(t, domain.StatusCanceled, ended.SubscriptionStatus)
	assert.False(t, ended.HasSubscription())

	reloaded, err := svc.Get(ctx, snowflake.ID(7))
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, reloaded.Tier)
	assert.Nil(t, reloaded.ExternalSubscriptionRef)
}

func TestAttachSubscriptionRejectsFreeTier(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AttachSubscription(context.Background(), snowflake.ID(7), domain.AttachSubscriptionRequest{
		SubscriptionRef: "sub_1",
		Tier:            plan.TierFree,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSubscription)
}

func TestValidateRejectsCompedWithSubscription(t *testing.T) {
	ref := "sub_1"
	state := domain.BillingState{
		BusinessID:              1,
		Tier:                    plan.TierPro,
		SubscriptionStatus:      domain.StatusComped,
		ExternalSubscriptionRef: &ref,
	}
	assert.ErrorIs(t, state.Validate(), domain.ErrCompedWithSubscription)
}
