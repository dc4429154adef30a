package authorization

import "github.com/smallbiznis/seatledger/internal/billingerr"

var (
	ErrInvalidActor    = billingerr.Forbidden("invalid_actor", "A signed-in user is required")
	ErrInvalidBusiness = billingerr.Validation("invalid_business", "business_id", "A business is required")
	ErrInvalidObject   = billingerr.Validation("invalid_object", "object", "Unknown authorization object")
	ErrInvalidAction   = billingerr.Validation("invalid_action", "action", "Unknown authorization action")
	ErrForbidden       = billingerr.Forbidden("forbidden", "You do not have permission to perform this action")
)
