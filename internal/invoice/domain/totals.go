package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/pkg/money"
)

type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	AmountDue decimal.Decimal
}

// ComputeTotals derives every invoice total from its line items. Line amounts
// are already rounded; tax and the final sums are rounded here.
func ComputeTotals(items []LineItem, taxRate, amountPaid decimal.Decimal) Totals {
	amounts := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		amounts = append(amounts, item.Amount)
	}
	subtotal := money.Round(money.Sum(amounts...))
	tax := money.Tax(subtotal, taxRate)
	total := money.Round(subtotal.Add(tax))
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     total,
		AmountDue: money.Round(total.Sub(amountPaid)),
	}
}

// Recalculate rewrites the stored totals from items.
func (inv *Invoice) Recalculate(items []LineItem) Totals {
	t := ComputeTotals(items, inv.TaxRate, inv.AmountPaid)
	inv.Subtotal = t.Subtotal
	inv.TaxAmount = t.TaxAmount
	inv.Total = t.Total
	inv.AmountDue = t.AmountDue
	return t
}

// NewLineItem fills Amount from quantity and unit price.
func NewLineItem(description string, quantity, unitPrice decimal.Decimal, sortOrder int) LineItem {
	return LineItem{
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      money.LineAmount(quantity, unitPrice),
		SortOrder:   sortOrder,
	}
}
