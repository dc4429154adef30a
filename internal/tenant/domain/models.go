package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/plan"
)

type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusComped   SubscriptionStatus = "comped"
)

// ParseSubscriptionStatus maps provider status strings onto the local set.
func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	switch SubscriptionStatus(raw) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusComped:
		return SubscriptionStatus(raw)
	case "unpaid", "incomplete":
		return StatusPastDue
	case "incomplete_expired":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// BillingState is the authoritative billing record of one business.
type BillingState struct {
	BusinessID              snowflake.ID       `gorm:"primaryKey;autoIncrement:false" json:"business_id"`
	Tier                    plan.Tier          `gorm:"type:varchar(32);not null" json:"tier"`
	IncludedSeats           int                `gorm:"not null" json:"included_seats"`
	SeatCount               int                `gorm:"not null" json:"seat_count"`
	SubscriptionStatus      SubscriptionStatus `gorm:"type:varchar(32);not null" json:"subscription_status"`
	ExternalCustomerRef     *string            `gorm:"type:varchar(255)" json:"external_customer_ref,omitempty"`
	ExternalSubscriptionRef *string            `gorm:"type:varchar(255)" json:"external_subscription_ref,omitempty"`
	CancelAtPeriodEnd       bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	AICreditsLimit          int                `gorm:"not null" json:"ai_credits_limit"`
	AICreditsUsed           int                `gorm:"not null" json:"ai_credits_used"`
	CreatedAt               time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"not null" json:"updated_at"`
}

func (BillingState) TableName() string { return "tenant_billing_states" }

// HasSubscription reports whether a paid external subscription is attached.
func (s *BillingState) HasSubscription() bool {
	return s.ExternalSubscriptionRef != nil && *s.ExternalSubscriptionRef != ""
}

// SubscriptionRef returns the external subscription id or "".
func (s *BillingState) SubscriptionRef() string {
	if s.ExternalSubscriptionRef == nil {
		return ""
	}
	return *s.ExternalSubscriptionRef
}

// HasLiveSubscription reports an attached subscription that was not already canceled.
func (s *BillingState) HasLiveSubscription() bool {
	return s.HasSubscription() && s.SubscriptionStatus != StatusCanceled
}

// ApplyPlan copies the tier defaults onto the state.
func (s *BillingState) ApplyPlan(tier plan.Tier, cfg plan.Config) {
	s.Tier = tier
	s.IncludedSeats = cfg.IncludedSeats
	s.AICreditsLimit = cfg.AICredits
}

// ResetToFree moves the state to free-tier defaults without a subscription.
func (s *BillingState) ResetToFree(cfg plan.Config) {
	s.ApplyPlan(plan.TierFree, cfg)
	s.SubscriptionStatus = StatusNone
	s.ExternalSubscriptionRef = nil
	s.CancelAtPeriodEnd = false
}

// Validate checks the invariants that must hold before the row is written.
func (s *BillingState) Validate() error {
	if s.BusinessID == 0 {
		return ErrInvalidBusiness
	}
	if _, err := plan.ParseTier(string(s.Tier)); err != nil {
		return ErrInvalidTier
	}
	if s.SubscriptionStatus == StatusComped && s.ExternalSubscriptionRef != nil {
		return ErrCompedWithSubscription
	}
	if s.SeatCount < 0 || s.IncludedSeats < 0 {
		return ErrInvalidSeatCount
	}
	return nil
}
