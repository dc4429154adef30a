package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/seatledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/seatledger/internal/audit/service"
	"github.com/smallbiznis/seatledger/internal/changeorder/domain"
	"github.com/smallbiznis/seatledger/internal/changeorder/repository"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/seatledger/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/seatledger/internal/invoice/service"
	"github.com/smallbiznis/seatledger/internal/notification"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const business = snowflake.ID(42)

var (
	owner  = orgcontext.Actor{ID: "user_owner", Role: orgcontext.RoleOwner}
	member = orgcontext.Actor{ID: "user_member", Role: orgcontext.RoleMember}
)

type nopNotifier struct{}

func (nopNotifier) InvoiceSent(ctx context.Context, msg notification.InvoiceSent) error { return nil }

type fixture struct {
	svc     domain.Service
	ledger  invoicedomain.Service
	db      *gorm.DB
	invoice snowflake.ID
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
		&domain.ChangeOrder{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
	})
	invoices := invoicerepo.Provide()
	ledger := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		Config:   config.Config{},
		GenID:    node,
		Repo:     invoices,
		AuditSvc: audit,
		Notifier: nopNotifier{},
		Metrics:  metrics.NewNop(),
		Clock:    clk,
	})
	svc := NewService(ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.Provide(),
		Invoices: invoices,
		Ledger:   ledger,
		AuditSvc: audit,
		Clock:    clk,
	})

	taxRate := d("8")
	resp, err := ledger.Create(context.Background(), business, invoicedomain.CreateInvoiceRequest{
		TaxRate: &taxRate,
		LineItems: []invoicedomain.LineItemInput{
			{Description: "Design hours", Quantity: d("10"), UnitPrice: d("7.50")},
			{Description: "Hosting", Quantity: d("1"), UnitPrice: d("50")},
		},
	}, owner)
	require.NoError(t, err)
	return &fixture{svc: svc, ledger: ledger, db: conn, invoice: resp.ID}
}

func (f *fixture) propose(t *testing.T, title, amount string) *domain.ChangeOrder {
	t.Helper()
	co, err := f.svc.Create(context.Background(), business, f.invoice, domain.CreateRequest{
		Title:  title,
		Amount: d(amount),
	}, member)
	require.NoError(t, err)
	return co
}

func TestApproveAppendsLineAndRecalculates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.propose(t, "Extra landing page", "20.00")
	assert.Equal(t, 1, co.Number)
	assert.Equal(t, domain.StatusPending, co.Status)

	res, err := f.svc.Approve(ctx, business, co.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "145.00", res.NewSubtotal.StringFixed(2))
	assert.Equal(t, "156.60", res.NewTotal.StringFixed(2))
	assert.Equal(t, "156.60", res.NewAmountDue.StringFixed(2))
	assert.Equal(t, domain.StatusApproved, res.ChangeOrder.Status)
	require.NotNil(t, res.ChangeOrder.ApprovedBy)
	assert.Equal(t, "user_owner", *res.ChangeOrder.ApprovedBy)

	inv, err := f.ledger.Get(ctx, business, f.invoice)
	require.NoError(t, err)
	assert.Equal(t, "11.60", inv.TaxAmount.StringFixed(2))
	require.Len(t, inv.LineItems, 3)
	assert.Equal(t, "Change Order #1: Extra landing page", inv.LineItems[2].Description)

	_, err = f.svc.Approve(ctx, business, co.ID, owner)
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestNumbersArePerInvoice(t *testing.T) {
	f := newFixture(t)
	first := f.propose(t, "One", "5")
	second := f.propose(t, "Two", "-5")
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)

	list, err := f.svc.List(context.Background(), business, f.invoice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Two", list[1].Title)
}

func TestNegativeChangeOrderIsAllowed(t *testing.T) {
	f := newFixture(t)
	co := f.propose(t, "Discount for delay", "-25.00")

	res, err := f.svc.Approve(context.Background(), business, co.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "100.00", res.NewSubtotal.StringFixed(2))
	assert.Equal(t, "108.00", res.NewTotal.StringFixed(2))
}

func TestApproveRequiresElevatedRole(t *testing.T) {
	f := newFixture(t)
	co := f.propose(t, "Extra", "10")

	_, err := f.svc.Approve(context.Background(), business, co.ID, member)
	assert.ErrorIs(t, err, domain.ErrApproveDenied)
	_, err = f.svc.Reject(context.Background(), business, co.ID, member)
	assert.ErrorIs(t, err, domain.ErrApproveDenied)
}

func TestRejectIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.propose(t, "Extra", "10")

	rejected, err := f.svc.Reject(ctx, business, co.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)

	_, err = f.svc.Approve(ctx, business, co.ID, owner)
	assert.ErrorIs(t, err, domain.ErrNotPending)

	inv, err := f.ledger.Get(ctx, business, f.invoice)
	require.NoError(t, err)
	assert.Equal(t, "125.00", inv.Subtotal.StringFixed(2))
}

func TestApproveOnPaidInvoiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co := f.propose(t, "Extra", "10")

	_, err := f.ledger.Send(ctx, business, f.invoice, owner)
	require.NoError(t, err)
	_, err = f.ledger.RecordPayment(ctx, business, f.invoice, invoicedomain.RecordPaymentRequest{Amount: d("135")}, owner)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, business, co.ID, owner)
	assert.ErrorIs(t, err, invoicedomain.ErrChangeOrderClosed)

	var stored domain.ChangeOrder
	require.NoError(t, f.db.First(&stored, "id = ?", co.ID).Error)
	assert.Equal(t, domain.StatusPending, stored.Status)

	_, err = f.svc.Create(ctx, business, f.invoice, domain.CreateRequest{Title: "Late", Amount: d("1")}, member)
	assert.ErrorIs(t, err, domain.ErrInvoiceClosed)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, business, f.invoice, domain.CreateRequest{Title: " ", Amount: d("1")}, member)
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)
	_, err = f.svc.Create(ctx, business, f.invoice, domain.CreateRequest{Title: "Zero", Amount: d("0")}, member)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Create(ctx, business, f.invoice, domain.CreateRequest{Title: "Sub-cent", Amount: d("12.505")}, member)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.Create(ctx, business, snowflake.ID(9), domain.CreateRequest{Title: "x", Amount: d("1")}, member)
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}
