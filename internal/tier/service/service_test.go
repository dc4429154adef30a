package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/membership"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	overridedomain "github.com/smallbiznis/seatledger/internal/override/domain"
	overriderepo "github.com/smallbiznis/seatledger/internal/override/repository"
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/memory"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/seatledger/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/seatledger/internal/tenant/service"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/smallbiznis/seatledger/internal/tier/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var admin = orgcontext.Actor{ID: "user_admin", Role: "admin"}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	tenants  tenantdomain.Service
	provider *memory.Provider
	members  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&tenantdomain.BillingState{}, &overridedomain.BillingOverride{}))

	catalog, err := plan.NewStaticCatalog(plan.DefaultConfigs())
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo := tenantrepo.Provide()
	tenants := tenantservice.NewService(tenantservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), Repo: repo, Catalog: catalog, Clock: clk,
	})

	f := &fixture{db: conn, tenants: tenants, provider: memory.New()}
	f.svc = NewService(ServiceParam{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Tenants:   tenants,
		Repo:      repo,
		Overrides: overriderepo.Provide(),
		Members: membership.CounterFunc(func(context.Context, snowflake.ID) (int, error) {
			return f.members, nil
		}),
		Provider: f.provider,
		Catalog:  catalog,
		Locker:   tenantlock.NewLocal(),
		Clock:    clk,
	})
	return f
}

func (f *fixture) attach(t *testing.T, id snowflake.ID, tier plan.Tier, items ...providerdomain.Item) {
	t.Helper()
	f.provider.Seed(providerdomain.Subscription{Ref: "sub_1", Items: items})
	_, err := f.tenants.AttachSubscription(context.Background(), id, tenantdomain.AttachSubscriptionRequest{
		SubscriptionRef: "sub_1",
		Tier:            tier,
	})
	require.NoError(t, err)
}

func (f *fixture) overrideRows(t *testing.T, id snowflake.ID) []overridedomain.BillingOverride {
	t.Helper()
	rows, err := overriderepo.Provide().List(context.Background(), f.db, id)
	require.NoError(t, err)
	return rows
}

func TestChangeTierSameTierIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(1)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})

	_, err := f.svc.ChangeTier(context.Background(), id, domain.ChangeTierRequest{NewTier: plan.TierPro}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, f.overrideRows(t, id))
	assert.Zero(t, f.provider.Calls(memory.OpUpdateItems))
}

func TestChangeTierPaidWithoutSubscription(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ChangeTier(context.Background(), snowflake.ID(2), domain.ChangeTierRequest{NewTier: plan.TierEnterprise}, admin)
	assert.ErrorIs(t, err, domain.ErrNoSubscription)
}

func TestChangeTierPaidSwap(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(3)
	f.attach(t, id, plan.TierPro,
		providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1},
		providerdomain.Item{ID: "si_seat", PriceRef: "price_pro_seat", Quantity: 3},
	)
	f.members = 8

	res, err := f.svc.ChangeTier(context.Background(), id, domain.ChangeTierRequest{NewTier: plan.TierEnterprise, Reason: "growth"}, admin)
	require.NoError(t, err)
	assert.True(t, res.Success)

	sub, ok := f.provider.Subscription("sub_1")
	require.True(t, ok)
	require.Len(t, sub.Items, 1, "seat item is deleted when the new tier includes every member")
	assert.Equal(t, "si_base", sub.Items[0].ID)
	assert.Equal(t, "price_enterprise_base", sub.Items[0].PriceRef)

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierEnterprise, state.Tier)
	assert.Equal(t, 25, state.IncludedSeats)
	assert.Equal(t, 10000, state.AICreditsLimit)

	rows := f.overrideRows(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, overridedomain.ActionTierChanged, rows[0].ActionType)
	assert.False(t, rows[0].IsActive)
	assert.Equal(t, "user_admin", rows[0].PerformedBy)
	require.NotNil(t, rows[0].Reason)
	assert.Equal(t, "growth", *rows[0].Reason)
}

func TestChangeTierProviderFailureKeepsLocalTier(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(4)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})
	f.provider.FailNext(memory.OpUpdateItems, errors.New("card declined"))

	_, err := f.svc.ChangeTier(context.Background(), id, domain.ChangeTierRequest{NewTier: plan.TierEnterprise}, admin)
	assert.ErrorIs(t, err, domain.ErrChangeFailed)

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier)
	assert.Empty(t, f.overrideRows(t, id))
}

func TestDowngradeToFreeWithSubscriptionSchedulesCancel(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(5)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})

	res, err := f.svc.ChangeTier(context.Background(), id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "end of the current billing period")

	sub, _ := f.provider.Subscription("sub_1")
	assert.True(t, sub.CancelAtPeriodEnd)

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier, "tier changes only when the period ends")
	assert.True(t, state.CancelAtPeriodEnd)

	rows := f.overrideRows(t, id)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsActive)
}

func TestDowngradeToFreeWithoutSubscriptionIsImmediate(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(6)
	_, err := f.tenants.Ensure(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&tenantdomain.BillingState{}).
		Where("business_id = ?", id).
		Updates(map[string]any{"tier": "pro", "included_seats": 5}).Error)

	_, err = f.svc.ChangeTier(context.Background(), id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, state.Tier)
	assert.Equal(t, 3, state.IncludedSeats)
	assert.Zero(t, f.provider.Calls(memory.OpCancelAtPeriodEnd))
	assert.Len(t, f.overrideRows(t, id), 1)
}

func TestReselectingTierAfterScheduledDowngradeResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := snowflake.ID(7)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})

	_, err := f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)

	res, err := f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierPro}, admin)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "withdrawn")
	assert.Equal(t, 1, f.provider.Calls(memory.OpResume))

	sub, _ := f.provider.Subscription("sub_1")
	assert.False(t, sub.CancelAtPeriodEnd)
	state, err := f.tenants.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier)
	assert.False(t, state.CancelAtPeriodEnd)
	assert.Len(t, f.overrideRows(t, id), 2)

	_, err = f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierPro}, admin)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "nothing left to resume")
}

func TestUpgradeAfterScheduledDowngradeClearsPendingCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := snowflake.ID(8)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})

	_, err := f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)
	_, err = f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierEnterprise}, admin)
	require.NoError(t, err)

	sub, _ := f.provider.Subscription("sub_1")
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "price_enterprise_base", sub.Items[0].PriceRef)
	assert.Zero(t, f.provider.Calls(memory.OpResume), "the cancel is cleared in the item update")

	state, err := f.tenants.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierEnterprise, state.Tier)
	assert.False(t, state.CancelAtPeriodEnd)

	rows := f.overrideRows(t, id)
	require.Len(t, rows, 2)
	var resumed []any
	for _, row := range rows {
		resumed = append(resumed, row.Details["resumed"])
	}
	assert.Contains(t, resumed, true)
}

func TestResumeProviderFailureKeepsPendingCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := snowflake.ID(9)
	f.attach(t, id, plan.TierPro, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})
	_, err := f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)
	f.provider.FailNext(memory.OpResume, errors.New("rate limited"))

	_, err = f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierPro}, admin)
	assert.ErrorIs(t, err, domain.ErrChangeFailed)

	state, err := f.tenants.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.CancelAtPeriodEnd)
}

func TestDowngradeCompedTenantToFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := snowflake.ID(10)
	_, err := f.tenants.Ensure(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&tenantdomain.BillingState{}).
		Where("business_id = ?", id).
		Updates(map[string]any{"tier": "enterprise", "included_seats": 25, "subscription_status": string(tenantdomain.StatusComped)}).Error)
	require.NoError(t, overriderepo.Provide().Insert(ctx, f.db, &overridedomain.BillingOverride{
		ID:          snowflake.ID(900),
		BusinessID:  id,
		ActionType:  overridedomain.ActionCompApplied,
		PerformedBy: "user_admin",
		IsActive:    true,
		CreatedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}))

	_, err = f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierPro}, admin)
	assert.ErrorIs(t, err, domain.ErrComped)

	res, err := f.svc.ChangeTier(ctx, id, domain.ChangeTierRequest{NewTier: plan.TierFree}, admin)
	require.NoError(t, err)
	assert.Equal(t, "Plan changed to free", res.Message)

	state, err := f.tenants.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, state.Tier)
	assert.Equal(t, tenantdomain.StatusNone, state.SubscriptionStatus)
	assert.Equal(t, 3, state.IncludedSeats)

	_, err = overriderepo.Provide().FindActive(ctx, f.db, id, overridedomain.ActionCompApplied)
	assert.ErrorIs(t, err, overridedomain.ErrNoActive)
	assert.Len(t, f.overrideRows(t, id), 2)
	assert.Zero(t, f.provider.Calls(memory.OpCancelAtPeriodEnd))
}
