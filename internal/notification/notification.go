// Package notification dispatches customer-facing messages. Delivery is a
// collaborator concern: callers log failures and carry on.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceSent struct {
	BusinessID    snowflake.ID
	InvoiceID     snowflake.ID
	InvoiceNumber string
	Recipient     string
	ViewURL       string
	AmountDue     string
	DueDate       time.Time
}

type Notifier interface {
	InvoiceSent(ctx context.Context, msg InvoiceSent) error
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

type NoOpSender struct{}

func (NoOpSender) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}
