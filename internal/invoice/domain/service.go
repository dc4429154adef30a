package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

type CreateInvoiceRequest struct {
	ClientID      string
	ProjectID     string
	ClientEmail   string
	LineItems     []LineItemInput
	IssueDate     *time.Time
	DueDate       *time.Time
	PaymentTerms  string
	TaxRate       *decimal.Decimal
	Notes         string
	InternalNotes string
}

type CreateInvoiceResponse struct {
	ID            snowflake.ID `json:"id"`
	InvoiceNumber string       `json:"invoice_number"`
}

type RecordPaymentRequest struct {
	Amount          decimal.Decimal
	Method          string
	ReferenceNumber string
	Notes           string
	PaymentDate     *time.Time
}

type RecordPaymentResponse struct {
	AmountPaid decimal.Decimal `json:"amount_paid"`
	AmountDue  decimal.Decimal `json:"amount_due"`
	Status     Status          `json:"status"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status string
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// ChangeOrderLine is the line an approved change order appends.
type ChangeOrderLine struct {
	ChangeOrderID snowflake.ID
	Description   string
	Amount        decimal.Decimal
}

type ListFilter struct {
	BusinessID snowflake.ID
	Status     Status
	Cursor     *pagination.Cursor
	Limit      int
}

type Repository interface {
	// NextSequence increments and returns the business counter inside tx.
	NextSequence(ctx context.Context, tx *gorm.DB, businessID snowflake.ID) (int64, error)
	Insert(ctx context.Context, tx *gorm.DB, inv *Invoice) error
	Find(ctx context.Context, db *gorm.DB, businessID, id snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID) (*Invoice, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*Invoice, error)
	Save(ctx context.Context, tx *gorm.DB, inv *Invoice) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, from Status, dueBefore, now time.Time) (int64, error)

	ListLineItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	ReplaceLineItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, items []LineItem) error
	AppendLineItem(ctx context.Context, tx *gorm.DB, item *LineItem) error

	InsertPayment(ctx context.Context, tx *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]Payment, error)
}

type Service interface {
	Create(ctx context.Context, businessID snowflake.ID, req CreateInvoiceRequest, actor orgcontext.Actor) (*CreateInvoiceResponse, error)
	// Get loads the invoice with its line items, flipping it to overdue when due.
	Get(ctx context.Context, businessID, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, businessID snowflake.ID, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ReplaceLineItems(ctx context.Context, businessID, id snowflake.ID, items []LineItemInput, actor orgcontext.Actor) (*Invoice, error)
	Send(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*Invoice, error)
	RecordPayment(ctx context.Context, businessID, id snowflake.ID, req RecordPaymentRequest, actor orgcontext.Actor) (*RecordPaymentResponse, error)
	ListPayments(ctx context.Context, businessID, id snowflake.ID) ([]Payment, error)
	Void(ctx context.Context, businessID, id snowflake.ID, reason string, actor orgcontext.Actor) (*Invoice, error)
	SweepOverdue(ctx context.Context) (int64, error)

	// FindByToken resolves a live viewing token.
	FindByToken(ctx context.Context, token string) (*Invoice, error)
	// MarkViewed moves a sent invoice to viewed; other statuses are unchanged.
	MarkViewed(ctx context.Context, businessID, id snowflake.ID) (*Invoice, error)
	// ApplyChangeOrder appends line inside the caller's transaction and
	// recalculates totals.
	ApplyChangeOrder(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID, line ChangeOrderLine) (*Invoice, error)
}

var (
	ErrInvalidLineItems = billingerr.Validation("invalid_line_items", "line_items", "Every line item needs a description, a positive quantity and a non-negative unit price")
	ErrInvalidTaxRate   = billingerr.Validation("invalid_tax_rate", "tax_rate", "Tax rate must be between 0 and 100")
	ErrInvalidTerms     = billingerr.Validation("invalid_payment_terms", "payment_terms", "Payment terms must be due_on_receipt, net_15, net_30 or net_60")
	ErrInvalidDueDate   = billingerr.Validation("invalid_due_date", "due_date", "Due date cannot be before the issue date")
	ErrInvalidAmount    = billingerr.Validation("invalid_payment_amount", "amount", "Payment amount must be greater than zero")
	ErrAmountExceedsDue = billingerr.Validation("payment_exceeds_balance", "amount", "Payment amount exceeds balance due")
	ErrInvalidStatus    = billingerr.Validation("invalid_status", "status", "Unknown invoice status")
	ErrInvalidPageToken = billingerr.Validation("invalid_page_token", "page_token", "The page token is invalid")
	ErrNoLineItems      = billingerr.Validation("no_line_items", "line_items", "Add at least one line item before sending the invoice")

	ErrActorRequired = billingerr.Forbidden("actor_required", "A signed-in user is required")
	ErrVoidForbidden = billingerr.Forbidden("void_forbidden", "Only admins and owners can void invoices")

	ErrNotFound     = billingerr.NotFound("invoice_not_found", "Invoice not found")
	ErrTokenExpired = billingerr.NotFound("invoice_link_expired", "This invoice link has expired")

	ErrNotDraft             = billingerr.Conflict("invoice_not_draft", "Line items can only be edited while the invoice is a draft")
	ErrAlreadySent          = billingerr.Conflict("invoice_already_sent", "This invoice has already been sent")
	ErrPaymentOnDraft       = billingerr.Conflict("invoice_not_sent", "Send the invoice before recording payments")
	ErrPaymentOnPaid        = billingerr.Conflict("invoice_already_paid", "This invoice is already paid")
	ErrPaymentOnVoid        = billingerr.Conflict("invoice_void", "This invoice has been voided")
	ErrVoidPaid             = billingerr.Conflict("invoice_paid_cannot_void", "Paid invoices cannot be voided")
	ErrAlreadyVoid          = billingerr.Conflict("invoice_already_void", "This invoice is already void")
	ErrChangeOrderClosed    = billingerr.Conflict("invoice_closed", "Change orders cannot be applied to paid or void invoices")
	ErrNegativeBalance      = billingerr.Conflict("negative_balance", "Change order would reduce the balance below the amount already paid")
	ErrTransitionNotAllowed = billingerr.Conflict("invalid_status_transition", "The invoice cannot move to that status")
)
