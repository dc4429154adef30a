package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	overridedomain "github.com/smallbiznis/seatledger/internal/override/domain"
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	tierdomain "github.com/smallbiznis/seatledger/internal/tier/domain"
)

type changeTierRequest struct {
	NewTier string `json:"new_tier"`
	Reason  string `json:"reason"`
}

type compRequest struct {
	Action string `json:"action"`
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

type discountRequest struct {
	Action           string          `json:"action"`
	DiscountType     string          `json:"discount_type"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	Duration         string          `json:"duration"`
	DurationInMonths int             `json:"duration_in_months"`
	Reason           string          `json:"reason"`
}

func (s *Server) GetBillingState(c *gin.Context) {
	businessID, _ := requestScope(c)
	state, err := s.tenantSvc.Ensure(c.Request.Context(), businessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) ListOverrides(c *gin.Context) {
	businessID, _ := requestScope(c)
	entries, err := s.overrideSvc.List(c.Request.Context(), businessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) ChangeTier(c *gin.Context) {
	var req changeTierRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	newTier, err := plan.ParseTier(strings.ToLower(strings.TrimSpace(req.NewTier)))
	if err != nil {
		AbortWithError(c, tierdomain.ErrInvalidTier)
		return
	}

	businessID, actor := requestScope(c)
	result, err := s.tierSvc.ChangeTier(c.Request.Context(), businessID, tierdomain.ChangeTierRequest{
		NewTier: newTier,
		Reason:  strings.TrimSpace(req.Reason),
	}, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) Comp(c *gin.Context) {
	var req compRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	op, err := overridedomain.ParseOperation(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	businessID, actor := requestScope(c)
	reason := strings.TrimSpace(req.Reason)

	var result *overridedomain.Result
	switch op {
	case overridedomain.OpApply:
		compTier, parseErr := plan.ParseTier(strings.ToLower(strings.TrimSpace(req.Tier)))
		if parseErr != nil {
			AbortWithError(c, overridedomain.ErrInvalidCompTier)
			return
		}
		result, err = s.overrideSvc.ApplyComp(ctx, businessID, compTier, reason, actor)
	case overridedomain.OpRemove:
		result, err = s.overrideSvc.RemoveComp(ctx, businessID, reason, actor)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) Discount(c *gin.Context) {
	var req discountRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	op, err := overridedomain.ParseOperation(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	businessID, actor := requestScope(c)
	reason := strings.TrimSpace(req.Reason)

	var result *overridedomain.Result
	switch op {
	case overridedomain.OpApply:
		result, err = s.overrideSvc.ApplyDiscount(ctx, businessID, overridedomain.DiscountRequest{
			Type:             providerdomain.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
			Value:            req.DiscountValue,
			Duration:         providerdomain.DiscountDuration(strings.ToLower(strings.TrimSpace(req.Duration))),
			DurationInMonths: req.DurationInMonths,
			Reason:           reason,
		}, actor)
	case overridedomain.OpRemove:
		result, err = s.overrideSvc.RemoveDiscount(ctx, businessID, reason, actor)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ReconcileSeats(c *gin.Context) {
	businessID, _ := requestScope(c)
	result, err := s.seatSvc.ReconcileSeats(c.Request.Context(), businessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
