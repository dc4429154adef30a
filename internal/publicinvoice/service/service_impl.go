package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/seatledger/internal/config"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/domain"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/pdf"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"github.com/smallbiznis/seatledger/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Invoices invoicedomain.Service
	Provider providerdomain.Provider
	Renderer pdf.Renderer
}

type Service struct {
	log      *zap.Logger
	currency string
	invoices invoicedomain.Service
	provider providerdomain.Provider
	renderer pdf.Renderer
}

func New(p ServiceParam) domain.Service {
	currency := strings.ToLower(strings.TrimSpace(p.Config.Stripe.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		log:      p.Log.Named("publicinvoice.service"),
		currency: currency,
		invoices: p.Invoices,
		provider: p.Provider,
		renderer: p.Renderer,
	}
}

func (s *Service) View(ctx context.Context, token string) (*domain.PublicInvoice, error) {
	inv, err := s.invoices.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	viewed, err := s.invoices.MarkViewed(ctx, inv.BusinessID, inv.ID)
	if err != nil {
		return nil, err
	}
	return s.project(viewed), nil
}

func (s *Service) Pay(ctx context.Context, token string) (*domain.PaymentIntentResponse, error) {
	inv, err := s.invoices.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	switch {
	case inv.Status == invoicedomain.StatusVoid:
		return nil, invoicedomain.ErrPaymentOnVoid
	case inv.Status == invoicedomain.StatusPaid:
		return nil, invoicedomain.ErrPaymentOnPaid
	case !inv.Status.Can().RecordPayment || !inv.AmountDue.IsPositive():
		return nil, domain.ErrNotPayable
	}

	amount := money.Round(inv.AmountDue)
	minor := money.MinorUnits(amount)
	intent, err := s.provider.CreatePaymentIntent(ctx, providerdomain.PaymentIntentRequest{
		AmountMinor:    minor,
		Currency:       s.currency,
		Description:    "Invoice " + inv.InvoiceNumber,
		IdempotencyKey: "invoice:" + inv.ID.String() + ":" + amount.StringFixed(money.Scale),
		Metadata: map[string]string{
			"invoice_id":     inv.ID.String(),
			"invoice_number": inv.InvoiceNumber,
			"business_id":    inv.BusinessID.String(),
		},
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("create payment intent failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
		return nil, domain.ErrPaymentUnavailable.Wrap(err)
	}
	return &domain.PaymentIntentResponse{
		ClientSecret: intent.ClientSecret,
		Amount:       amount,
		AmountMinor:  minor,
		Currency:     s.currency,
	}, nil
}

func (s *Service) PDF(ctx context.Context, token string) (*domain.Document, error) {
	inv, err := s.invoices.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	content, err := s.renderer.Invoice(s.project(inv))
	if err != nil {
		return nil, err
	}
	return &domain.Document{Filename: inv.InvoiceNumber + ".pdf", Content: content}, nil
}

func (s *Service) project(inv *invoicedomain.Invoice) *domain.PublicInvoice {
	out := &domain.PublicInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		Status:        string(inv.Status),
		IssueDate:     inv.IssueDate.Format(dateLayout),
		DueDate:       inv.DueDate.Format(dateLayout),
		Currency:      s.currency,
		Subtotal:      inv.Subtotal,
		TaxRate:       inv.TaxRate,
		TaxAmount:     inv.TaxAmount,
		Total:         inv.Total,
		AmountPaid:    inv.AmountPaid,
		AmountDue:     inv.AmountDue,
		Items:         make([]domain.PublicLineItem, 0, len(inv.LineItems)),
	}
	if inv.PaidAt != nil {
		out.PaidDate = inv.PaidAt.Format(dateLayout)
	}
	if inv.ClientEmail != nil {
		out.BillToEmail = *inv.ClientEmail
	}
	if inv.Notes != nil {
		out.Notes = *inv.Notes
	}
	for _, item := range inv.LineItems {
		out.Items = append(out.Items, domain.PublicLineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
		})
	}
	return out
}
