package webhook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	"github.com/smallbiznis/seatledger/internal/payment/repository"
	"github.com/smallbiznis/seatledger/internal/plan"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/seatledger/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/seatledger/internal/tenant/service"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret   = "whsec_test"
	testBusiness = snowflake.ID(77)
)

type mockInvoices struct {
	invoicedomain.Service
	mock.Mock
}

func (m *mockInvoices) RecordPayment(ctx context.Context, businessID, id snowflake.ID, req invoicedomain.RecordPaymentRequest, actor orgcontext.Actor) (*invoicedomain.RecordPaymentResponse, error) {
	args := m.Called(businessID, id, req, actor)
	resp, _ := args.Get(0).(*invoicedomain.RecordPaymentResponse)
	return resp, args.Error(1)
}

type fixture struct {
	svc      paymentdomain.Service
	db       *gorm.DB
	tenants  tenantdomain.Service
	invoices *mockInvoices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&tenantdomain.BillingState{}, &paymentdomain.EventRecord{}))

	catalog, err := plan.NewStaticCatalog(plan.DefaultConfigs())
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	tenants := tenantservice.NewService(tenantservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), Repo: tenantrepo.Provide(), Catalog: catalog, Clock: clk,
	})

	invoices := &mockInvoices{}
	cfg := config.Config{Stripe: config.StripeConfig{WebhookSecret: testSecret}}
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		GenID:    node,
		Repo:     repository.Provide(),
		Tenants:  tenants,
		Invoices: invoices,
		Catalog:  catalog,
		Locker:   tenantlock.NewLocal(),
		Clock:    clk,
	})
	return &fixture{svc: svc, db: conn, tenants: tenants, invoices: invoices}
}

func sign(payload []byte) string {
	now := time.Now()
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(webhook.ComputeSignature(now, payload, testSecret)))
}

func (f *fixture) deliver(payload string) error {
	return f.svc.IngestWebhook(context.Background(), "stripe", []byte(payload), sign([]byte(payload)))
}

func subscriptionEvent(eventID, eventType, subID, status string, cancelAtPeriodEnd bool) string {
	return fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "created": 1772323200,
  "data": {"object": {
    "id": %q,
    "object": "subscription",
    "status": %q,
    "customer": "cus_9",
    "cancel_at_period_end": %t,
    "metadata": {"business_id": "77"},
    "items": {"object": "list", "data": [
      {"id": "si_base", "object": "subscription_item", "price": {"id": "price_pro_base", "object": "price"}, "quantity": 1}
    ]}
  }}
}`, eventID, eventType, subID, status, cancelAtPeriodEnd)
}

func paymentEvent(eventID string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "payment_intent.succeeded",
  "created": 1772323200,
  "data": {"object": {
    "id": "pi_1",
    "object": "payment_intent",
    "amount": 8500,
    "amount_received": 8500,
    "currency": "usd",
    "metadata": {"invoice_id": "900", "invoice_number": "INV-00001", "business_id": "77"}
  }}
}`, eventID)
}

func TestSubscriptionCreatedAttachesTenant(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.deliver(subscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "active", false)))

	state, err := f.tenants.Get(context.Background(), testBusiness)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier)
	assert.Equal(t, "sub_1", state.SubscriptionRef())
	assert.Equal(t, tenantdomain.StatusActive, state.SubscriptionStatus)
	require.NotNil(t, state.ExternalCustomerRef)
	assert.Equal(t, "cus_9", *state.ExternalCustomerRef)

	var stored paymentdomain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_1").First(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	require.NotNil(t, stored.BusinessID)
	assert.Equal(t, testBusiness, *stored.BusinessID)
}

func TestSubscriptionUpdatedMirrorsPendingCancel(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deliver(subscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "active", false)))

	require.NoError(t, f.deliver(subscriptionEvent("evt_2", "customer.subscription.updated", "sub_1", "active", true)))
	state, err := f.tenants.Get(context.Background(), testBusiness)
	require.NoError(t, err)
	assert.True(t, state.CancelAtPeriodEnd)
	assert.Equal(t, plan.TierPro, state.Tier)
}

func TestSubscriptionDeletedEndsPeriod(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deliver(subscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "active", false)))

	require.NoError(t, f.deliver(subscriptionEvent("evt_2", "customer.subscription.deleted", "sub_old", "canceled", false)))
	state, err := f.tenants.Get(context.Background(), testBusiness)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, state.Tier, "a stale subscription does not end the current one")

	require.NoError(t, f.deliver(subscriptionEvent("evt_3", "customer.subscription.deleted", "sub_1", "canceled", false)))
	state, err = f.tenants.Get(context.Background(), testBusiness)
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, state.Tier)
	assert.Equal(t, tenantdomain.StatusCanceled, state.SubscriptionStatus)
	assert.Empty(t, state.SubscriptionRef())
}

func TestPaymentIntentSucceededRecordsCardPayment(t *testing.T) {
	f := newFixture(t)
	f.invoices.On("RecordPayment", testBusiness, snowflake.ID(900), mock.MatchedBy(func(req invoicedomain.RecordPaymentRequest) bool {
		return req.Amount.Equal(decimal.RequireFromString("85.00")) &&
			req.Method == "card" &&
			req.ReferenceNumber == "pi_1" &&
			req.PaymentDate != nil && req.PaymentDate.Equal(time.Unix(1772323200, 0))
	}), orgcontext.SystemActor).Return(&invoicedomain.RecordPaymentResponse{Status: invoicedomain.StatusPaid}, nil).Once()

	require.NoError(t, f.deliver(paymentEvent("evt_pay")))
	assert.ErrorIs(t, f.deliver(paymentEvent("evt_pay")), paymentdomain.ErrEventAlreadyProcessed)
	f.invoices.AssertExpectations(t)
}

func TestPaymentFailureIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t)
	f.invoices.On("RecordPayment", testBusiness, snowflake.ID(900), mock.Anything, orgcontext.SystemActor).
		Return(nil, errors.New("connection reset")).Once()
	f.invoices.On("RecordPayment", testBusiness, snowflake.ID(900), mock.Anything, orgcontext.SystemActor).
		Return(&invoicedomain.RecordPaymentResponse{}, nil).Once()

	assert.Error(t, f.deliver(paymentEvent("evt_pay")))
	require.NoError(t, f.deliver(paymentEvent("evt_pay")))
	f.invoices.AssertNumberOfCalls(t, "RecordPayment", 2)
}

func TestPaymentOnPaidInvoiceIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.invoices.On("RecordPayment", testBusiness, snowflake.ID(900), mock.Anything, orgcontext.SystemActor).
		Return(nil, invoicedomain.ErrPaymentOnPaid).Once()

	require.NoError(t, f.deliver(paymentEvent("evt_pay")))
}

func TestIngestRejectsUnverifiedDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte(paymentEvent("evt_pay"))

	err := f.svc.IngestWebhook(ctx, "stripe", payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = f.svc.IngestWebhook(ctx, "stripe", payload, "")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = f.svc.IngestWebhook(ctx, "paypal", payload, sign(payload))
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	f.invoices.AssertNotCalled(t, "RecordPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWithoutSecretIsDisabled(t *testing.T) {
	svc := NewService(Params{Log: zap.NewNop()})
	err := svc.IngestWebhook(context.Background(), "stripe", []byte(`{}`), "")
	assert.ErrorIs(t, err, paymentdomain.ErrWebhookDisabled)
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deliver(`{"id": "evt_x", "object": "event", "type": "invoice.created", "data": {"object": {"id": "in_1"}}}`))

	var stored paymentdomain.EventRecord
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_x").First(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Nil(t, stored.BusinessID)
}
