package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Title       string
	Description string
	Amount      decimal.Decimal
}

// ApproveResult carries the invoice totals after the line was appended.
type ApproveResult struct {
	ChangeOrder  *ChangeOrder    `json:"change_order"`
	NewSubtotal  decimal.Decimal `json:"new_subtotal"`
	NewTotal     decimal.Decimal `json:"new_total"`
	NewAmountDue decimal.Decimal `json:"new_amount_due"`
}

type Repository interface {
	// NextNumber returns the next per-invoice number. Call with the invoice
	// row locked.
	NextNumber(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int, error)
	Insert(ctx context.Context, tx *gorm.DB, co *ChangeOrder) error
	FindForUpdate(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID) (*ChangeOrder, error)
	Save(ctx context.Context, tx *gorm.DB, co *ChangeOrder) error
	ListByInvoice(ctx context.Context, db *gorm.DB, businessID, invoiceID snowflake.ID) ([]ChangeOrder, error)
}

type Service interface {
	Create(ctx context.Context, businessID, invoiceID snowflake.ID, req CreateRequest, actor orgcontext.Actor) (*ChangeOrder, error)
	Approve(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*ApproveResult, error)
	Reject(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*ChangeOrder, error)
	List(ctx context.Context, businessID, invoiceID snowflake.ID) ([]ChangeOrder, error)
}

var (
	ErrInvalidTitle  = billingerr.Validation("invalid_change_order_title", "title", "Title is required")
	ErrInvalidAmount = billingerr.Validation("invalid_change_order_amount", "amount", "Amount must be non-zero with at most two decimal places")

	ErrActorRequired = billingerr.Forbidden("actor_required", "A signed-in user is required")
	ErrApproveDenied = billingerr.Forbidden("change_order_forbidden", "Only admins and owners can approve or reject change orders")
	ErrNotFound      = billingerr.NotFound("change_order_not_found", "Change order not found")
	ErrNotPending    = billingerr.Conflict("change_order_not_pending", "Only pending change orders can be approved or rejected")
	ErrInvoiceClosed = billingerr.Conflict("invoice_closed", "Change orders cannot be added to paid or void invoices")
)
