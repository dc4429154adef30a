package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/audit/masking"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/notification"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"github.com/smallbiznis/seatledger/pkg/money"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenBytes = 32
	tokenTTL   = 90 * 24 * time.Hour

	defaultPaymentMethod = "other"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	GenID    *snowflake.Node
	Repo     domain.Repository
	AuditSvc auditdomain.Service
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	publicBaseURL string
	genID         *snowflake.Node
	repo          domain.Repository
	auditSvc      auditdomain.Service
	notifier      notification.Notifier
	metrics       *metrics.Metrics
	clock         clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		publicBaseURL: p.Config.PublicBaseURL,
		genID:         p.GenID,
		repo:          p.Repo,
		auditSvc:      p.AuditSvc,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
		clock:         p.Clock,
	}
}

type transition struct {
	from domain.Status
	to   domain.Status
}

func (s *Service) Create(ctx context.Context, businessID snowflake.ID, req domain.CreateInvoiceRequest, actor orgcontext.Actor) (*domain.CreateInvoiceResponse, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	taxRate, err := validateTaxRate(req.TaxRate)
	if err != nil {
		return nil, err
	}
	terms := domain.PaymentTerms(strings.TrimSpace(req.PaymentTerms))
	if terms == "" {
		terms = domain.DefaultPaymentTerms
	}
	days, ok := terms.Days()
	if !ok {
		return nil, domain.ErrInvalidTerms
	}

	now := s.clock.Now()
	issueDate := dateOnly(now)
	if req.IssueDate != nil {
		issueDate = dateOnly(*req.IssueDate)
	}
	dueDate := issueDate.AddDate(0, 0, days)
	if req.DueDate != nil {
		dueDate = dateOnly(*req.DueDate)
	}
	if dueDate.Before(issueDate) {
		return nil, domain.ErrInvalidDueDate
	}

	inv := &domain.Invoice{
		ID:            s.genID.Generate(),
		BusinessID:    businessID,
		ClientID:      optional(req.ClientID),
		ProjectID:     optional(req.ProjectID),
		ClientEmail:   optional(req.ClientEmail),
		Status:        domain.StatusDraft,
		PaymentTerms:  terms,
		TaxRate:       taxRate,
		AmountPaid:    decimal.Zero,
		IssueDate:     issueDate,
		DueDate:       dueDate,
		Notes:         optional(req.Notes),
		InternalNotes: optional(req.InternalNotes),
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	items, err := s.buildLineItems(inv.ID, req.LineItems, now)
	if err != nil {
		return nil, err
	}
	inv.Recalculate(items)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.repo.NextSequence(ctx, tx, businessID)
		if err != nil {
			return err
		}
		inv.Sequence = seq
		inv.InvoiceNumber = domain.FormatNumber(seq)
		if err := s.repo.Insert(ctx, tx, inv); err != nil {
			return err
		}
		return s.repo.ReplaceLineItems(ctx, tx, inv.ID, items)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, businessID, "invoice.created", inv, map[string]any{
		"total": inv.Total.StringFixed(money.Scale),
	})
	return &domain.CreateInvoiceResponse{ID: inv.ID, InvoiceNumber: inv.InvoiceNumber}, nil
}

func (s *Service) Get(ctx context.Context, businessID, id snowflake.ID) (*domain.Invoice, error) {
	inv, err := s.repo.Find(ctx, s.db, businessID, id)
	if err != nil {
		return nil, err
	}
	if inv, err = s.refreshOverdue(ctx, inv); err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, s.db, inv)
}

func (s *Service) List(ctx context.Context, businessID snowflake.ID, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	filter := domain.ListFilter{BusinessID: businessID, Limit: req.Limit()}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = status
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListInvoiceResponse{}, domain.ErrInvalidPageToken
	}
	filter.Cursor = cursor

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}
	invoices, info := pagination.Page(rows, filter.Limit, func(inv domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String(), CreatedAt: inv.CreatedAt.UTC().Format(time.RFC3339Nano)}
	})
	return domain.ListInvoiceResponse{PageInfo: info, Invoices: invoices}, nil
}

func (s *Service) ReplaceLineItems(ctx context.Context, businessID, id snowflake.ID, inputs []domain.LineItemInput, actor orgcontext.Actor) (*domain.Invoice, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	now := s.clock.Now()
	items, err := s.buildLineItems(id, inputs, now)
	if err != nil {
		return nil, err
	}

	var out *domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if !inv.Status.Can().EditLineItems {
			return domain.ErrNotDraft
		}
		if err := s.repo.ReplaceLineItems(ctx, tx, inv.ID, items); err != nil {
			return err
		}
		inv.Recalculate(items)
		inv.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, inv); err != nil {
			return err
		}
		inv.LineItems = items
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Send(ctx context.Context, businessID, id snowflake.ID, actor orgcontext.Actor) (*domain.Invoice, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate viewing token: %w", err)
	}

	var out *domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		if !inv.Status.Can().Send {
			return domain.ErrAlreadySent
		}
		items, err := s.repo.ListLineItems(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return domain.ErrNoLineItems
		}
		if err := inv.TransitionTo(domain.StatusSent); err != nil {
			return err
		}
		now := s.clock.Now()
		expiresAt := now.Add(tokenTTL)
		inv.ViewingToken = &token
		inv.TokenExpiresAt = &expiresAt
		inv.SentAt = &now
		inv.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, inv); err != nil {
			return err
		}
		inv.LineItems = items
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceTransition(string(domain.StatusDraft), string(domain.StatusSent))
	s.audit(ctx, businessID, "invoice.sent", out, nil)
	s.notifySent(ctx, out)
	return out, nil
}

func (s *Service) notifySent(ctx context.Context, inv *domain.Invoice) {
	msg := notification.InvoiceSent{
		BusinessID:    inv.BusinessID,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ViewURL:       s.ViewURL(*inv.ViewingToken),
		AmountDue:     money.Format(inv.AmountDue),
		DueDate:       inv.DueDate,
	}
	if inv.ClientEmail != nil {
		msg.Recipient = *inv.ClientEmail
	}
	if err := s.notifier.InvoiceSent(ctx, msg); err != nil {
		logger.WithContext(ctx, s.log).Warn("invoice sent but notification failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
	}
}

// ViewURL is the public link embedded in notifications.
func (s *Service) ViewURL(token string) string {
	return s.publicBaseURL + "/invoices/view?token=" + token
}

func (s *Service) RecordPayment(ctx context.Context, businessID, id snowflake.ID, req domain.RecordPaymentRequest, actor orgcontext.Actor) (*domain.RecordPaymentResponse, error) {
	ctx, span := otel.Tracer("seatledger/invoice").Start(ctx, "invoice.record_payment")
	defer span.End()
	span.SetAttributes(attribute.String("invoice_id", id.String()))

	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if !req.Amount.IsPositive() || !money.FitsScale(req.Amount) {
		return nil, domain.ErrInvalidAmount
	}
	amount := money.Round(req.Amount)
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = defaultPaymentMethod
	}

	var (
		out     *domain.RecordPaymentResponse
		moved   *transition
		payment *domain.Payment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case domain.StatusVoid:
			return domain.ErrPaymentOnVoid
		case domain.StatusPaid:
			return domain.ErrPaymentOnPaid
		case domain.StatusDraft:
			return domain.ErrPaymentOnDraft
		}
		if !inv.Status.Can().RecordPayment {
			return domain.ErrTransitionNotAllowed
		}
		if amount.GreaterThan(inv.AmountDue) {
			return domain.ErrAmountExceedsDue.WithMessage("Payment amount exceeds balance due of %s", money.Format(inv.AmountDue))
		}

		now := s.clock.Now()
		paidOn := now
		if req.PaymentDate != nil {
			paidOn = req.PaymentDate.UTC()
		}
		payment = &domain.Payment{
			ID:              s.genID.Generate(),
			InvoiceID:       inv.ID,
			BusinessID:      inv.BusinessID,
			Amount:          amount,
			Method:          method,
			ReferenceNumber: optional(req.ReferenceNumber),
			Notes:           optional(req.Notes),
			PaymentDate:     paidOn,
			RecordedBy:      actor.ID,
			CreatedAt:       now,
		}
		if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
			return err
		}

		from := inv.Status
		inv.AmountPaid = money.Round(inv.AmountPaid.Add(amount))
		inv.AmountDue = money.Round(inv.Total.Sub(inv.AmountPaid))
		next := domain.StatusPartiallyPaid
		if !inv.AmountDue.IsPositive() {
			next = domain.StatusPaid
			inv.PaidAt = &now
		}
		if err := inv.TransitionTo(next); err != nil {
			return err
		}
		if from != inv.Status {
			moved = &transition{from: from, to: inv.Status}
		}
		inv.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, inv); err != nil {
			return err
		}
		out = &domain.RecordPaymentResponse{AmountPaid: inv.AmountPaid, AmountDue: inv.AmountDue, Status: inv.Status}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.IncPayment()
	if moved != nil {
		s.metrics.IncInvoiceTransition(string(moved.from), string(moved.to))
	}
	metadata := map[string]any{
		"payment_id":       payment.ID.String(),
		"amount":           amount.StringFixed(money.Scale),
		"method":           method,
		"reference_number": req.ReferenceNumber,
		"status":           string(out.Status),
	}
	if err := s.auditSvc.AuditLog(ctx, businessID, "invoice.payment_recorded", "invoice", id.String(), masking.MaskFields(metadata, "reference_number")); err != nil {
		logger.WithContext(ctx, s.log).Warn("audit log failed", zap.Error(err))
	}
	return out, nil
}

func (s *Service) ListPayments(ctx context.Context, businessID, id snowflake.ID) ([]domain.Payment, error) {
	inv, err := s.repo.Find(ctx, s.db, businessID, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, s.db, inv.ID)
}

func (s *Service) Void(ctx context.Context, businessID, id snowflake.ID, reason string, actor orgcontext.Actor) (*domain.Invoice, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if !actor.IsElevated() {
		return nil, domain.ErrVoidForbidden
	}

	var (
		out  *domain.Invoice
		from domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case domain.StatusPaid:
			return domain.ErrVoidPaid
		case domain.StatusVoid:
			return domain.ErrAlreadyVoid
		}
		from = inv.Status
		if err := inv.TransitionTo(domain.StatusVoid); err != nil {
			return err
		}
		now := s.clock.Now()
		inv.VoidedAt = &now
		inv.UpdatedAt = now
		if from != domain.StatusDraft {
			inv.InternalNotes = appendNote(inv.InternalNotes, voidNote(actor, now, reason))
		}
		if err := s.repo.Save(ctx, tx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceTransition(string(from), string(domain.StatusVoid))
	s.audit(ctx, businessID, "invoice.voided", out, map[string]any{"reason": strings.TrimSpace(reason)})
	return out, nil
}

func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	today := dateOnly(now)
	var total int64
	for _, from := range domain.OverdueCandidates() {
		n, err := s.repo.MarkOverdue(ctx, s.db, from, today, now)
		if err != nil {
			return total, err
		}
		s.metrics.AddInvoiceTransitions(string(from), string(domain.StatusOverdue), n)
		total += n
	}
	return total, nil
}

func (s *Service) FindByToken(ctx context.Context, token string) (*domain.Invoice, error) {
	inv, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTokenExpired
		}
		return nil, err
	}
	if inv.TokenExpiresAt == nil || !s.clock.Now().Before(*inv.TokenExpiresAt) {
		return nil, domain.ErrTokenExpired
	}
	if inv, err = s.refreshOverdue(ctx, inv); err != nil {
		return nil, err
	}
	return s.withLineItems(ctx, s.db, inv)
}

func (s *Service) MarkViewed(ctx context.Context, businessID, id snowflake.ID) (*domain.Invoice, error) {
	var (
		out   *domain.Invoice
		moved bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
		if err != nil {
			return err
		}
		out = inv
		if inv.Status != domain.StatusSent {
			return nil
		}
		if err := inv.TransitionTo(domain.StatusViewed); err != nil {
			return err
		}
		now := s.clock.Now()
		inv.ViewedAt = &now
		inv.UpdatedAt = now
		moved = true
		return s.repo.Save(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.metrics.IncInvoiceTransition(string(domain.StatusSent), string(domain.StatusViewed))
	}
	return s.withLineItems(ctx, s.db, out)
}

func (s *Service) ApplyChangeOrder(ctx context.Context, tx *gorm.DB, businessID, id snowflake.ID, line domain.ChangeOrderLine) (*domain.Invoice, error) {
	inv, err := s.repo.FindForUpdate(ctx, tx, businessID, id)
	if err != nil {
		return nil, err
	}
	if !inv.Status.Can().ApplyChangeOrder {
		return nil, domain.ErrChangeOrderClosed
	}
	items, err := s.repo.ListLineItems(ctx, tx, inv.ID)
	if err != nil {
		return nil, err
	}

	sortOrder := 0
	for _, item := range items {
		if item.SortOrder >= sortOrder {
			sortOrder = item.SortOrder + 1
		}
	}
	now := s.clock.Now()
	changeOrderID := line.ChangeOrderID
	item := domain.NewLineItem(line.Description, decimal.NewFromInt(1), money.Round(line.Amount), sortOrder)
	item.ID = s.genID.Generate()
	item.InvoiceID = inv.ID
	item.ChangeOrderID = &changeOrderID
	item.CreatedAt = now
	items = append(items, item)

	inv.Recalculate(items)
	if inv.AmountDue.IsNegative() {
		return nil, domain.ErrNegativeBalance
	}
	if inv.AmountDue.IsZero() && inv.AmountPaid.IsPositive() && inv.Status.Can().RecordPayment {
		if err := inv.TransitionTo(domain.StatusPaid); err != nil {
			return nil, err
		}
		inv.PaidAt = &now
	}
	if err := s.repo.AppendLineItem(ctx, tx, &item); err != nil {
		return nil, err
	}
	inv.UpdatedAt = now
	if err := s.repo.Save(ctx, tx, inv); err != nil {
		return nil, err
	}
	inv.LineItems = items
	return inv, nil
}

// refreshOverdue applies the on-read overdue check.
func (s *Service) refreshOverdue(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	now := s.clock.Now()
	if !inv.Status.Can().MarkOverdue || !inv.DueDate.Before(dateOnly(now)) {
		return inv, nil
	}
	var (
		out  = inv
		from domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, inv.BusinessID, inv.ID)
		if err != nil {
			return err
		}
		out = current
		if !current.Status.Can().MarkOverdue || !current.DueDate.Before(dateOnly(now)) {
			return nil
		}
		from = current.Status
		if err := current.TransitionTo(domain.StatusOverdue); err != nil {
			return err
		}
		current.UpdatedAt = now
		return s.repo.Save(ctx, tx, current)
	})
	if err != nil {
		return nil, err
	}
	if from != "" {
		s.metrics.IncInvoiceTransition(string(from), string(domain.StatusOverdue))
	}
	return out, nil
}

func (s *Service) withLineItems(ctx context.Context, db *gorm.DB, inv *domain.Invoice) (*domain.Invoice, error) {
	items, err := s.repo.ListLineItems(ctx, db, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return inv, nil
}

func (s *Service) buildLineItems(invoiceID snowflake.ID, inputs []domain.LineItemInput, now time.Time) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(inputs))
	for i, in := range inputs {
		description := strings.TrimSpace(in.Description)
		if description == "" || !in.Quantity.IsPositive() || in.UnitPrice.IsNegative() {
			return nil, domain.ErrInvalidLineItems.WithMessage("Line item %d needs a description, a positive quantity and a non-negative unit price", i+1)
		}
		if !money.FitsScale(in.Quantity) || !money.FitsScale(in.UnitPrice) {
			return nil, domain.ErrInvalidLineItems.WithMessage("Line item %d quantity and unit price allow at most two decimal places", i+1)
		}
		item := domain.NewLineItem(description, in.Quantity, in.UnitPrice, i)
		item.ID = s.genID.Generate()
		item.InvoiceID = invoiceID
		item.CreatedAt = now
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) audit(ctx context.Context, businessID snowflake.ID, action string, inv *domain.Invoice, extra map[string]any) {
	metadata := map[string]any{
		"invoice_number": inv.InvoiceNumber,
		"status":         string(inv.Status),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	if err := s.auditSvc.AuditLog(ctx, businessID, action, "invoice", inv.ID.String(), metadata); err != nil {
		logger.WithContext(ctx, s.log).Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func validateTaxRate(rate *decimal.Decimal) (decimal.Decimal, error) {
	if rate == nil {
		return decimal.Zero, nil
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, domain.ErrInvalidTaxRate
	}
	return rate.Round(2), nil
}

func voidNote(actor orgcontext.Actor, at time.Time, reason string) string {
	note := fmt.Sprintf("Voided by %s on %s", actor.ID, at.Format("2006-01-02"))
	if reason = strings.TrimSpace(reason); reason != "" {
		note += ": " + reason
	}
	return note
}

func appendNote(existing *string, note string) *string {
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &note
	}
	joined := *existing + "\n" + note
	return &joined
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
