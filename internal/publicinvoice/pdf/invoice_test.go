package pdf

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceRendersPDF(t *testing.T) {
	out, err := New().Invoice(&domain.PublicInvoice{
		InvoiceNumber: "INV-00001",
		Status:        "sent",
		IssueDate:     "2026-03-01",
		DueDate:       "2026-03-31",
		Currency:      "usd",
		Subtotal:      decimal.RequireFromString("125"),
		TaxRate:       decimal.RequireFromString("8"),
		TaxAmount:     decimal.RequireFromString("10"),
		Total:         decimal.RequireFromString("135"),
		AmountDue:     decimal.RequireFromString("135"),
		Items: []domain.PublicLineItem{
			{Description: "Hosting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50), Amount: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestInvoiceRequiresData(t *testing.T) {
	_, err := New().Invoice(nil)
	assert.Error(t, err)
}
