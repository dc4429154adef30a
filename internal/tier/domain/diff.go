package domain

import (
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
)

type DiffInput struct {
	Subscription *providerdomain.Subscription
	From         plan.Config
	To           plan.Config
	ExtraSeats   int
	// IsBase and IsSeat recognize items priced by any tier, for subscriptions
	// whose items no longer match From.
	IsBase func(priceRef string) bool
	IsSeat func(priceRef string) bool
}

// BuildDiff returns the item changes that move a subscription from one tier
// to another. The base item is swapped in place or inserted. The seat item is
// swapped in place, inserted when extra seats appear, or deleted when none are
// left.
func BuildDiff(in DiffInput) []providerdomain.ItemChange {
	changes := make([]providerdomain.ItemChange, 0, 2)

	if base, ok := findItem(in.Subscription, in.From.BasePriceRef, in.IsBase); ok {
		changes = append(changes, providerdomain.ItemChange{ID: base.ID, PriceRef: in.To.BasePriceRef, Quantity: 1})
	} else {
		changes = append(changes, providerdomain.ItemChange{PriceRef: in.To.BasePriceRef, Quantity: 1})
	}

	seat, ok := findItem(in.Subscription, in.From.SeatPriceRef, in.IsSeat)
	switch {
	case ok && in.ExtraSeats == 0:
		changes = append(changes, providerdomain.ItemChange{ID: seat.ID, Delete: true})
	case ok:
		changes = append(changes, providerdomain.ItemChange{ID: seat.ID, PriceRef: in.To.SeatPriceRef, Quantity: int64(in.ExtraSeats)})
	case in.ExtraSeats > 0:
		changes = append(changes, providerdomain.ItemChange{PriceRef: in.To.SeatPriceRef, Quantity: int64(in.ExtraSeats)})
	}
	return changes
}

func findItem(sub *providerdomain.Subscription, ref string, fallback func(string) bool) (providerdomain.Item, bool) {
	if ref != "" {
		if item, ok := sub.FindByPrice(func(p string) bool { return p == ref }); ok {
			return item, true
		}
	}
	if fallback == nil {
		return providerdomain.Item{}, false
	}
	return sub.FindByPrice(fallback)
}
