// Package pdf renders the public invoice projection.
package pdf

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/domain"
	"github.com/smallbiznis/seatledger/pkg/money"
)

type Renderer interface {
	Invoice(inv *domain.PublicInvoice) ([]byte, error)
}

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func (r *marotoRenderer) Invoice(inv *domain.PublicInvoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, statusLabel(inv.Status), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+inv.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+inv.IssueDate, props.Text{Top: 4}),
			text.New("Date due: "+inv.DueDate, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(inv.BillToEmail, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, money.Format(inv.AmountDue)+" due "+inv.DueDate, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range inv.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money.Format(item.UnitPrice), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money.Format(item.Amount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct {
		label string
		value string
		bold  bool
	}{
		{"Subtotal", money.Format(inv.Subtotal), false},
		{"Tax (" + inv.TaxRate.String() + "%)", money.Format(inv.TaxAmount), false},
		{"Total", money.Format(inv.Total), false},
		{"Amount paid", money.Format(inv.AmountPaid), false},
		{"Amount due", money.Format(inv.AmountDue), true},
	}
	for _, row := range totals {
		style := fontstyle.Normal
		if row.bold {
			style = fontstyle.Bold
		}
		m.AddRow(8,
			col.New(7),
			text.NewCol(3, row.label, props.Text{Size: 9, Style: style}),
			text.NewCol(2, row.value, props.Text{Size: 9, Style: style, Align: align.Right}),
		)
	}

	if inv.Notes != "" {
		m.AddRow(20,
			text.NewCol(12, inv.Notes, props.Text{Size: 9, Top: 6}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func statusLabel(status string) string {
	switch status {
	case "paid":
		return "PAID"
	case "void":
		return "VOID"
	case "overdue":
		return "OVERDUE"
	default:
		return ""
	}
}
