package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ChangeOrder amends an invoice. Approval appends exactly one line item and
// is final.
type ChangeOrder struct {
	ID          snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BusinessID  snowflake.ID    `gorm:"not null;index" json:"business_id"`
	InvoiceID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_change_order_number,priority:1" json:"invoice_id"`
	Number      int             `gorm:"not null;uniqueIndex:ux_change_order_number,priority:2" json:"number"`
	Title       string          `gorm:"type:text;not null" json:"title"`
	Description *string         `gorm:"type:text" json:"description,omitempty"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status      Status          `gorm:"type:text;not null;default:'pending'" json:"status"`
	RequestedBy string          `gorm:"type:text;not null" json:"requested_by"`
	ApprovedBy  *string         `gorm:"type:text" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	RejectedBy  *string         `gorm:"type:text" json:"rejected_by,omitempty"`
	RejectedAt  *time.Time      `json:"rejected_at,omitempty"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (ChangeOrder) TableName() string { return "invoice_change_orders" }

// LineDescription is the text of the invoice line an approval appends.
func (c ChangeOrder) LineDescription() string {
	return "Change Order #" + strconv.Itoa(c.Number) + ": " + c.Title
}
