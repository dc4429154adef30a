package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	"github.com/smallbiznis/seatledger/internal/plan"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/smallbiznis/seatledger/pkg/money"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	providerStripe = "stripe"
	methodCard     = "card"

	metadataBusinessID = "business_id"
	metadataInvoiceID  = "invoice_id"
	metadataTier       = "tier"
)

// errIgnored marks a verified event that needs no local change.
var errIgnored = errors.New("event_ignored")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Repo     paymentdomain.Repository
	Tenants  tenantdomain.Service
	Invoices invoicedomain.Service
	Catalog  *plan.Catalog
	Locker   tenantlock.Locker
	Clock    clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	secret   string
	genID    *snowflake.Node
	repo     paymentdomain.Repository
	tenants  tenantdomain.Service
	invoices invoicedomain.Service
	catalog  *plan.Catalog
	locker   tenantlock.Locker
	clock    clock.Clock
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		secret:   strings.TrimSpace(p.Cfg.Stripe.WebhookSecret),
		genID:    p.GenID,
		repo:     p.Repo,
		tenants:  p.Tenants,
		invoices: p.Invoices,
		catalog:  p.Catalog,
		locker:   p.Locker,
		clock:    p.Clock,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, signature string) error {
	ctx, span := otel.Tracer("seatledger/payment").Start(ctx, "payment.webhook")
	defer span.End()

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != providerStripe {
		return paymentdomain.ErrProviderNotFound
	}
	if s.secret == "" {
		return paymentdomain.ErrWebhookDisabled
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureErr(err) {
			return paymentdomain.ErrInvalidSignature.Wrap(err)
		}
		return paymentdomain.ErrInvalidPayload.Wrap(err)
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return paymentdomain.ErrInvalidPayload
	}
	span.SetAttributes(attribute.String("event_type", string(event.Type)), attribute.String("event_id", event.ID))

	record, err := s.repo.Record(ctx, s.db, &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if record.ProcessedAt != nil {
		return paymentdomain.ErrEventAlreadyProcessed
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	ctx = orgcontext.WithActor(ctx, orgcontext.SystemActor)
	businessID, err := s.dispatch(ctx, event)
	switch {
	case errors.Is(err, errIgnored):
		log.Debug("webhook event ignored")
	case err != nil:
		span.RecordError(err)
		log.Warn("webhook event failed", zap.Error(err))
		return err
	default:
		log.Info("webhook event applied", zap.String("business_id", businessID.String()))
	}

	var scope *snowflake.ID
	if businessID != 0 {
		scope = &businessID
	}
	return s.repo.MarkProcessed(ctx, s.db, record.ID, scope, s.clock.Now())
}

func (s *Service) dispatch(ctx context.Context, event stripego.Event) (snowflake.ID, error) {
	switch string(event.Type) {
	case paymentdomain.EventSubscriptionCreated, paymentdomain.EventSubscriptionUpdated:
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return 0, paymentdomain.ErrInvalidPayload.Wrap(err)
		}
		return s.syncSubscription(ctx, &sub)
	case paymentdomain.EventSubscriptionDeleted:
		var sub stripego.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return 0, paymentdomain.ErrInvalidPayload.Wrap(err)
		}
		return s.endSubscription(ctx, &sub)
	case paymentdomain.EventPaymentSucceeded:
		var intent stripego.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return 0, paymentdomain.ErrInvalidPayload.Wrap(err)
		}
		return s.recordCardPayment(ctx, &intent, event.Created)
	default:
		return 0, errIgnored
	}
}

// syncSubscription attaches the subscription named in the event to the tenant
// recorded in its metadata.
func (s *Service) syncSubscription(ctx context.Context, sub *stripego.Subscription) (snowflake.ID, error) {
	businessID, ok := parseID(sub.Metadata[metadataBusinessID])
	if !ok {
		return 0, errIgnored
	}
	switch sub.Status {
	case stripego.SubscriptionStatusCanceled, stripego.SubscriptionStatusIncompleteExpired:
		return s.endSubscription(ctx, sub)
	}
	tier, ok := s.tierOf(sub)
	if !ok {
		logger.WithContext(ctx, s.log).Warn("subscription has no known base price",
			zap.String("business_id", businessID.String()),
			zap.String("subscription_ref", sub.ID),
		)
		return businessID, errIgnored
	}

	req := tenantdomain.AttachSubscriptionRequest{
		SubscriptionRef:   sub.ID,
		Tier:              tier,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		req.CustomerRef = sub.Customer.ID
	}
	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		_, err := s.tenants.AttachSubscription(ctx, businessID, req)
		return err
	})
	if errors.Is(err, tenantdomain.ErrComped) {
		return businessID, errIgnored
	}
	return businessID, err
}

// endSubscription applies the period end only when the event names the
// subscription the tenant currently holds.
func (s *Service) endSubscription(ctx context.Context, sub *stripego.Subscription) (snowflake.ID, error) {
	businessID, ok := parseID(sub.Metadata[metadataBusinessID])
	if !ok {
		return 0, errIgnored
	}
	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		state, err := s.tenants.Get(ctx, businessID)
		if err != nil {
			return err
		}
		if state.SubscriptionRef() != sub.ID {
			return errIgnored
		}
		_, err = s.tenants.HandlePeriodEnd(ctx, businessID)
		return err
	})
	if errors.Is(err, tenantdomain.ErrNotFound) {
		return businessID, errIgnored
	}
	return businessID, err
}

func (s *Service) recordCardPayment(ctx context.Context, intent *stripego.PaymentIntent, occurred int64) (snowflake.ID, error) {
	businessID, ok := parseID(intent.Metadata[metadataBusinessID])
	if !ok {
		return 0, errIgnored
	}
	invoiceID, ok := parseID(intent.Metadata[metadataInvoiceID])
	if !ok {
		return businessID, errIgnored
	}
	minor := intent.AmountReceived
	if minor <= 0 {
		minor = intent.Amount
	}
	paidOn := s.clock.Now()
	if occurred > 0 {
		paidOn = time.Unix(occurred, 0).UTC()
	}

	ctx = orgcontext.WithBusinessID(ctx, businessID)
	_, err := s.invoices.RecordPayment(ctx, businessID, invoiceID, invoicedomain.RecordPaymentRequest{
		Amount:          money.FromMinorUnits(minor),
		Method:          methodCard,
		ReferenceNumber: intent.ID,
		PaymentDate:     &paidOn,
	}, orgcontext.SystemActor)
	switch {
	case errors.Is(err, invoicedomain.ErrPaymentOnPaid),
		errors.Is(err, invoicedomain.ErrPaymentOnVoid),
		errors.Is(err, invoicedomain.ErrAmountExceedsDue),
		errors.Is(err, invoicedomain.ErrNotFound):
		logger.WithContext(ctx, s.log).Warn("card payment needs manual reconciliation",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("payment_intent", intent.ID),
			zap.Error(err),
		)
		return businessID, errIgnored
	}
	return businessID, err
}

// tierOf prefers the base price on the subscription and falls back to the
// tier recorded in its metadata.
func (s *Service) tierOf(sub *stripego.Subscription) (plan.Tier, bool) {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if tier, ok := s.catalog.TierForBasePrice(item.Price.ID); ok {
				return tier, true
			}
		}
	}
	tier, err := plan.ParseTier(sub.Metadata[metadataTier])
	if err != nil || !tier.IsPaid() {
		return "", false
	}
	return tier, true
}

func parseID(raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func isSignatureErr(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
