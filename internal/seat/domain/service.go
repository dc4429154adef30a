package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/billingerr"
)

type Result struct {
	SeatCount  int  `json:"seat_count"`
	ExtraSeats int  `json:"extra_seats"`
	Synced     bool `json:"synced"`
}

type Service interface {
	// ReconcileSeats stores the active member count and pushes the extra seat
	// quantity to the external subscription. Safe to re-run.
	ReconcileSeats(ctx context.Context, businessID snowflake.ID) (*Result, error)
}

var (
	ErrSyncFailed       = billingerr.Provider("seat_sync_failed", "Seat count was saved but the subscription could not be updated")
	ErrSeatPriceMissing = billingerr.Provider("seat_price_missing", "No seat price is configured for this plan")
)
