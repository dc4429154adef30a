package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/billingerr"
)

// Service serves the customer-facing pages reached through a viewing token.
type Service interface {
	// View returns the redacted invoice and records the first view.
	View(ctx context.Context, token string) (*PublicInvoice, error)
	Pay(ctx context.Context, token string) (*PaymentIntentResponse, error)
	PDF(ctx context.Context, token string) (*Document, error)
}

type PublicLineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// PublicInvoice is the projection shown to the invoice recipient. It carries
// no internal notes and no tenant identifiers.
type PublicInvoice struct {
	InvoiceNumber string           `json:"invoice_number"`
	Status        string           `json:"status"`
	IssueDate     string           `json:"issue_date"`
	DueDate       string           `json:"due_date"`
	PaidDate      string           `json:"paid_date,omitempty"`
	BillToEmail   string           `json:"bill_to_email,omitempty"`
	Currency      string           `json:"currency"`
	Notes         string           `json:"notes,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	TaxRate       decimal.Decimal  `json:"tax_rate"`
	TaxAmount     decimal.Decimal  `json:"tax_amount"`
	Total         decimal.Decimal  `json:"total"`
	AmountPaid    decimal.Decimal  `json:"amount_paid"`
	AmountDue     decimal.Decimal  `json:"amount_due"`
	Items         []PublicLineItem `json:"items"`
}

type PaymentIntentResponse struct {
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	AmountMinor  int64           `json:"amount_minor"`
	Currency     string          `json:"currency"`
}

type Document struct {
	Filename string
	Content  []byte
}

var (
	ErrNotPayable         = billingerr.Conflict("invoice_not_payable", "This invoice has no balance due")
	ErrPaymentUnavailable = billingerr.Provider("payment_unavailable", "Online payment is unavailable right now")
)
