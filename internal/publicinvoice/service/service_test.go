package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/seatledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatledger/internal/audit/service"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/seatledger/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/seatledger/internal/invoice/service"
	"github.com/smallbiznis/seatledger/internal/notification"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/domain"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/pdf"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const business = snowflake.ID(987654321)

var owner = orgcontext.Actor{ID: "user_owner", Role: orgcontext.RoleOwner}

type nopNotifier struct{}

func (nopNotifier) InvoiceSent(ctx context.Context, msg notification.InvoiceSent) error { return nil }

type fixture struct {
	svc      domain.Service
	ledger   invoicedomain.Service
	provider *memory.Provider
	clock    *clock.FakeClock
	invoice  snowflake.ID
	token    string
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.Payment{},
		&invoicedomain.Sequence{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
	})
	ledger := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     invoicerepo.Provide(),
		AuditSvc: audit,
		Notifier: nopNotifier{},
		Metrics:  metrics.NewNop(),
		Clock:    clk,
	})
	provider := memory.New()
	svc := New(ServiceParam{
		Log:      zap.NewNop(),
		Config:   config.Config{},
		Invoices: ledger,
		Provider: provider,
		Renderer: pdf.New(),
	})

	ctx := context.Background()
	taxRate := d("8")
	resp, err := ledger.Create(ctx, business, invoicedomain.CreateInvoiceRequest{
		ClientEmail:   "client@example.test",
		TaxRate:       &taxRate,
		Notes:         "Thanks for your business",
		InternalNotes: "client pays late",
		LineItems: []invoicedomain.LineItemInput{
			{Description: "Design hours", Quantity: d("10"), UnitPrice: d("7.50")},
			{Description: "Hosting", Quantity: d("1"), UnitPrice: d("50")},
		},
	}, owner)
	require.NoError(t, err)
	sent, err := ledger.Send(ctx, business, resp.ID, owner)
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		ledger:   ledger,
		provider: provider,
		clock:    clk,
		invoice:  resp.ID,
		token:    *sent.ViewingToken,
	}
}

func TestViewIsRedactedAndMarksViewed(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.View(context.Background(), f.token)
	require.NoError(t, err)
	assert.Equal(t, "viewed", view.Status)
	assert.Equal(t, "INV-00001", view.InvoiceNumber)
	assert.Equal(t, "135.00", view.Total.StringFixed(2))
	assert.Equal(t, "Thanks for your business", view.Notes)
	require.Len(t, view.Items, 2)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "client pays late")
	assert.NotContains(t, string(raw), business.String())
	assert.NotContains(t, string(raw), f.invoice.String())

	inv, err := f.ledger.Get(context.Background(), business, f.invoice)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusViewed, inv.Status)
}

func TestPayCreatesIntentForAmountDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.RecordPayment(ctx, business, f.invoice, invoicedomain.RecordPaymentRequest{Amount: d("35.50")}, owner)
	require.NoError(t, err)

	intent, err := f.svc.Pay(ctx, f.token)
	require.NoError(t, err)
	assert.Equal(t, int64(9950), intent.AmountMinor)
	assert.Equal(t, "99.50", intent.Amount.StringFixed(2))
	assert.Equal(t, "usd", intent.Currency)
	assert.NotEmpty(t, intent.ClientSecret)
	assert.Equal(t, 1, f.provider.Calls(memory.OpPaymentIntent))
}

func TestPayRejectsSettledInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.RecordPayment(ctx, business, f.invoice, invoicedomain.RecordPaymentRequest{Amount: d("135")}, owner)
	require.NoError(t, err)

	_, err = f.svc.Pay(ctx, f.token)
	assert.ErrorIs(t, err, invoicedomain.ErrPaymentOnPaid)
	assert.Zero(t, f.provider.Calls(memory.OpPaymentIntent))
}

func TestPayProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext(memory.OpPaymentIntent, errors.New("card network down"))

	_, err := f.svc.Pay(context.Background(), f.token)
	assert.ErrorIs(t, err, domain.ErrPaymentUnavailable)
	assert.Equal(t, billingerr.KindExternalProvider, billingerr.KindOf(err))
}

func TestExpiredTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(91 * 24 * time.Hour)

	_, err := f.svc.View(context.Background(), f.token)
	assert.ErrorIs(t, err, invoicedomain.ErrTokenExpired)
	_, err = f.svc.PDF(context.Background(), f.token)
	assert.ErrorIs(t, err, invoicedomain.ErrTokenExpired)
}

func TestPDF(t *testing.T) {
	f := newFixture(t)

	doc, err := f.svc.PDF(context.Background(), f.token)
	require.NoError(t, err)
	assert.Equal(t, "INV-00001.pdf", doc.Filename)
	assert.NotEmpty(t, doc.Content)
}
