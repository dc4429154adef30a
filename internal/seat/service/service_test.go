package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/membership"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/plan"
	"github.com/smallbiznis/seatledger/internal/seat/domain"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/memory"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/seatledger/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/seatledger/internal/tenant/service"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      *Service
	db       *gorm.DB
	tenants  tenantdomain.Service
	provider *memory.Provider
	members  map[snowflake.ID]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&tenantdomain.BillingState{}))

	catalog, err := plan.NewStaticCatalog(plan.DefaultConfigs())
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo := tenantrepo.Provide()
	tenants := tenantservice.NewService(tenantservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), Repo: repo, Catalog: catalog, Clock: clk,
	})

	f := &fixture{
		db:       conn,
		tenants:  tenants,
		provider: memory.New(),
		members:  map[snowflake.ID]int{},
	}
	f.svc = NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		Tenants: tenants,
		Repo:    repo,
		Members: membership.CounterFunc(func(ctx context.Context, id snowflake.ID) (int, error) {
			return f.members[id], nil
		}),
		Provider: f.provider,
		Catalog:  catalog,
		Locker:   tenantlock.NewLocal(),
		Metrics:  metrics.NewNop(),
		Clock:    clk,
	}).(*Service)
	return f
}

func (f *fixture) attachPro(t *testing.T, id snowflake.ID, items ...providerdomain.Item) {
	t.Helper()
	f.provider.Seed(providerdomain.Subscription{Ref: "sub_1", CustomerRef: "cus_1", Items: items})
	_, err := f.tenants.AttachSubscription(context.Background(), id, tenantdomain.AttachSubscriptionRequest{
		CustomerRef:     "cus_1",
		SubscriptionRef: "sub_1",
		Tier:            plan.TierPro,
		Status:          "active",
	})
	require.NoError(t, err)
}

func seatQuantity(t *testing.T, p *memory.Provider) (int64, bool) {
	t.Helper()
	sub, ok := p.Subscription("sub_1")
	require.True(t, ok)
	item, found := sub.FindByPrice(func(ref string) bool { return ref == "price_pro_seat" })
	return item.Quantity, found
}

func TestReconcileFreeTierIsLocalOnly(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(1)
	f.members[id] = 7

	res, err := f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 7, res.SeatCount)
	assert.False(t, res.Synced)
	assert.Zero(t, f.provider.Calls(memory.OpRetrieve))

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 7, state.SeatCount)
}

func TestReconcileCreatesSeatItemWhenOverIncluded(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(2)
	f.attachPro(t, id, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})
	f.members[id] = 8

	res, err := f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExtraSeats)
	assert.True(t, res.Synced)

	qty, found := seatQuantity(t, f.provider)
	require.True(t, found)
	assert.EqualValues(t, 3, qty)
}

func TestReconcileKeepsZeroQuantitySeatItem(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(3)
	f.attachPro(t, id,
		providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1},
		providerdomain.Item{ID: "si_seat", PriceRef: "price_pro_seat", Quantity: 4},
	)
	f.members[id] = 2

	res, err := f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExtraSeats)

	qty, found := seatQuantity(t, f.provider)
	require.True(t, found, "zero quantity seat item must be kept")
	assert.EqualValues(t, 0, qty)
}

func TestReconcileNoSeatItemAndNoExtraSkipsUpdate(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(4)
	f.attachPro(t, id, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})
	f.members[id] = 5

	_, err := f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, f.provider.Calls(memory.OpUpdateItems))
	_, found := seatQuantity(t, f.provider)
	assert.False(t, found)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(5)
	f.attachPro(t, id, providerdomain.Item{ID: "si_base", PriceRef: "price_pro_base", Quantity: 1})
	f.members[id] = 9

	_, err := f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	firstQty, _ := seatQuantity(t, f.provider)
	firstState, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)

	_, err = f.svc.ReconcileSeats(context.Background(), id)
	require.NoError(t, err)
	secondQty, _ := seatQuantity(t, f.provider)
	secondState, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, firstQty, secondQty)
	assert.Equal(t, firstState.SeatCount, secondState.SeatCount)
	assert.Equal(t, 1, f.provider.Calls(memory.OpUpdateItems))
}

func TestReconcileProviderFailureKeepsLocalCount(t *testing.T) {
	f := newFixture(t)
	id := snowflake.ID(6)
	f.attachPro(t, id, providerdomain.Item{ID: "si_seat", PriceRef: "price_pro_seat", Quantity: 1})
	f.members[id] = 10
	f.provider.FailNext(memory.OpUpdateItems, errors.New("provider down"))

	res, err := f.svc.ReconcileSeats(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSyncFailed)
	assert.Equal(t, billingerr.KindExternalProvider, billingerr.KindOf(err))
	require.NotNil(t, res)
	assert.False(t, res.Synced)

	state, err := f.tenants.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, state.SeatCount)

	qty, _ := seatQuantity(t, f.provider)
	assert.EqualValues(t, 1, qty)
}
