// Package domain contains the invoice aggregate and its persistence models.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentTerms string

const (
	TermsDueOnReceipt PaymentTerms = "due_on_receipt"
	TermsNet15        PaymentTerms = "net_15"
	TermsNet30        PaymentTerms = "net_30"
	TermsNet60        PaymentTerms = "net_60"

	DefaultPaymentTerms = TermsNet30
)

// Days returns the offset from issue date to due date.
func (t PaymentTerms) Days() (int, bool) {
	switch t {
	case TermsDueOnReceipt:
		return 0, true
	case TermsNet15:
		return 15, true
	case TermsNet30:
		return 30, true
	case TermsNet60:
		return 60, true
	default:
		return 0, false
	}
}

// Invoice is a client invoice issued by a business.
type Invoice struct {
	ID             snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BusinessID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoices_business_sequence,priority:1;index:idx_invoices_business_created,priority:1" json:"business_id"`
	Sequence       int64           `gorm:"not null;uniqueIndex:ux_invoices_business_sequence,priority:2" json:"sequence"`
	InvoiceNumber  string          `gorm:"type:varchar(32);not null" json:"invoice_number"`
	ClientID       *string         `gorm:"type:varchar(64)" json:"client_id,omitempty"`
	ProjectID      *string         `gorm:"type:varchar(64)" json:"project_id,omitempty"`
	ClientEmail    *string         `gorm:"type:varchar(255)" json:"client_email,omitempty"`
	Status         Status          `gorm:"type:varchar(32);not null;index" json:"status"`
	PaymentTerms   PaymentTerms    `gorm:"type:varchar(32);not null" json:"payment_terms"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	TaxRate        decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax_amount"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	AmountPaid     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_paid"`
	AmountDue      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_due"`
	IssueDate      time.Time       `gorm:"not null" json:"issue_date"`
	DueDate        time.Time       `gorm:"not null;index" json:"due_date"`
	Notes          *string         `gorm:"type:text" json:"notes,omitempty"`
	InternalNotes  *string         `gorm:"type:text" json:"internal_notes,omitempty"`
	ViewingToken   *string         `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	TokenExpiresAt *time.Time      `json:"token_expires_at,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	ViewedAt       *time.Time      `json:"viewed_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	CreatedBy      string          `gorm:"type:varchar(255);not null" json:"created_by"`
	CreatedAt      time.Time       `gorm:"not null;index:idx_invoices_business_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`

	LineItems []LineItem `gorm:"-" json:"line_items,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

// FormatNumber renders a per-business sequence as an invoice number.
func FormatNumber(sequence int64) string {
	return fmt.Sprintf("INV-%05d", sequence)
}

// LineItem belongs to exactly one invoice. Draft edits replace the whole set;
// after send, items are only appended by approved change orders.
type LineItem struct {
	ID            snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	InvoiceID     snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Description   string          `gorm:"type:text;not null" json:"description"`
	Quantity      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	SortOrder     int             `gorm:"not null" json:"sort_order"`
	ChangeOrderID *snowflake.ID   `json:"change_order_id,omitempty"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

func (LineItem) TableName() string { return "invoice_line_items" }

// Payment is append-only.
type Payment struct {
	ID              snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	InvoiceID       snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	BusinessID      snowflake.ID    `gorm:"not null;index" json:"business_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Method          string          `gorm:"type:varchar(32);not null" json:"method"`
	ReferenceNumber *string         `gorm:"type:varchar(255)" json:"reference_number,omitempty"`
	Notes           *string         `gorm:"type:text" json:"notes,omitempty"`
	PaymentDate     time.Time       `gorm:"not null" json:"payment_date"`
	RecordedBy      string          `gorm:"type:varchar(255);not null" json:"recorded_by"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (Payment) TableName() string { return "invoice_payments" }

// Sequence is the per-business invoice number counter.
type Sequence struct {
	BusinessID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	LastNumber int64        `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

func (Sequence) TableName() string { return "invoice_sequences" }
