package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/changeorder/domain"
	"github.com/smallbiznis/seatledger/internal/clock"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/pkg/money"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Invoices invoicedomain.Repository
	Ledger   invoicedomain.Service
	AuditSvc auditdomain.Service
	Clock    clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	invoices invoicedomain.Repository
	ledger   invoicedomain.Service
	auditSvc auditdomain.Service
	clock    clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("changeorder.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		invoices: p.Invoices,
		ledger:   p.Ledger,
		auditSvc: p.AuditSvc,
		clock:    p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, businessID, invoiceID snowflake.ID, req domain.CreateRequest, actor orgcontext.Actor) (*domain.ChangeOrder, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	if req.Amount.IsZero() || !money.FitsScale(req.Amount) {
		return nil, domain.ErrInvalidAmount
	}
	amount := money.Round(req.Amount)

	var out *domain.ChangeOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.invoices.FindForUpdate(ctx, tx, businessID, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.Can().ApplyChangeOrder {
			return domain.ErrInvoiceClosed
		}
		number, err := s.repo.NextNumber(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		co := &domain.ChangeOrder{
			ID:          s.genID.Generate(),
			BusinessID:  businessID,
			InvoiceID:   inv.ID,
			Number:      number,
			Title:       title,
			Amount:      amount,
			Status:      domain.StatusPending,
			RequestedBy: actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if desc := strings.TrimSpace(req.Description); desc != "" {
			co.Description = &desc
		}
		if err := s.repo.Insert(ctx, tx, co); err != nil {
			return err
		}
		out = co
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, businessID, "change_order.created", out)
	return out, nil
}

func (s *Service) Approve(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*domain.ApproveResult, error) {
	ctx, span := otel.Tracer("seatledger/changeorder").Start(ctx, "changeorder.approve")
	defer span.End()
	span.SetAttributes(attribute.String("change_order_id", id.String()))

	if err := authorize(actor); err != nil {
		return nil, err
	}

	var out *domain.ApproveResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		co, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if co.Status != domain.StatusPending {
			return domain.ErrNotPending
		}
		inv, err := s.ledger.ApplyChangeOrder(ctx, tx, businessID, co.InvoiceID, invoicedomain.ChangeOrderLine{
			ChangeOrderID: co.ID,
			Description:   co.LineDescription(),
			Amount:        co.Amount,
		})
		if err != nil {
			return err
		}

		now := s.clock.Now()
		approver := actor.ID
		co.Status = domain.StatusApproved
		co.ApprovedBy = &approver
		co.ApprovedAt = &now
		co.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, co); err != nil {
			return err
		}
		out = &domain.ApproveResult{
			ChangeOrder:  co,
			NewSubtotal:  inv.Subtotal,
			NewTotal:     inv.Total,
			NewAmountDue: inv.AmountDue,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit(ctx, businessID, "change_order.approved", out.ChangeOrder)
	return out, nil
}

func (s *Service) Reject(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*domain.ChangeOrder, error) {
	if err := authorize(actor); err != nil {
		return nil, err
	}

	var out *domain.ChangeOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		co, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if co.Status != domain.StatusPending {
			return domain.ErrNotPending
		}
		now := s.clock.Now()
		rejecter := actor.ID
		co.Status = domain.StatusRejected
		co.RejectedBy = &rejecter
		co.RejectedAt = &now
		co.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, co); err != nil {
			return err
		}
		out = co
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, businessID, "change_order.rejected", out)
	return out, nil
}

func (s *Service) List(ctx context.Context, businessID, invoiceID snowflake.ID) ([]domain.ChangeOrder, error) {
	if _, err := s.invoices.Find(ctx, s.db, businessID, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListByInvoice(ctx, s.db, businessID, invoiceID)
}

func authorize(actor orgcontext.Actor) error {
	if actor.IsZero() {
		return domain.ErrActorRequired
	}
	if !actor.IsElevated() {
		return domain.ErrApproveDenied
	}
	return nil
}

func (s *Service) audit(ctx context.Context, businessID snowflake.ID, action string, co *domain.ChangeOrder) {
	metadata := map[string]any{
		"invoice_id": co.InvoiceID.String(),
		"number":     co.Number,
		"amount":     co.Amount.StringFixed(money.Scale),
	}
	if err := s.auditSvc.AuditLog(ctx, businessID, action, "change_order", co.ID.String(), metadata); err != nil {
		logger.WithContext(ctx, s.log).Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
