package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate_limited")
	ErrNotFound     = errors.New("not_found")

	ErrInvalidRequest = billingerr.Validation("invalid_request", "request", "The request body is invalid")
	ErrInvalidID      = billingerr.Validation("invalid_id", "id", "The id is invalid")
	ErrInvalidDate    = billingerr.Validation("invalid_date", "date", "Dates must be formatted as YYYY-MM-DD")
	ErrTokenRequired  = billingerr.Validation("token_required", "token", "A viewing token is required")
	ErrInvalidScope   = billingerr.Validation("invalid_business", "X-Business-ID", "A valid business id header is required")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if be, ok := billingerr.As(err); ok {
		return statusForKind(be.Kind), errorPayload{
			Type:    string(be.Kind),
			Code:    be.Code,
			Field:   be.Field,
			Message: be.Message,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    string(billingerr.KindValidation),
			Code:    "invalid_page_token",
			Field:   "page_token",
			Message: "The page token is invalid",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    string(billingerr.KindNotFound),
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func statusForKind(kind billingerr.Kind) int {
	switch kind {
	case billingerr.KindValidation:
		return http.StatusBadRequest
	case billingerr.KindForbidden:
		return http.StatusForbidden
	case billingerr.KindNotFound:
		return http.StatusNotFound
	case billingerr.KindStateConflict:
		return http.StatusConflict
	case billingerr.KindExternalProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func classifyErrorForLog(err error) (string, string) {
	if be, ok := billingerr.As(err); ok {
		return string(be.Kind), be.Code
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
