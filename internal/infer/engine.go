package infer

import (
	"time"

	"auctionwatch/internal/model"
)

// Tier identifies which fallback produced a diff cycle's events.
type Tier int

const (
	TierNone Tier = iota
	// TierAuction matches listings by auction id: a listing that vanished is
	// counted as sold in full, a shrunken one as a partial fill. A vanished
	// listing may equally have been cancelled or expired; the engine cannot
	// tell these apart and accepts the approximation.
	TierAuction
	// TierPriceBucket sums quantities per (item, unit price) key. Used when
	// the auction tier found nothing, which is typical for commodity feeds
	// whose auction ids are not stable across polls.
	TierPriceBucket
	// TierItemTotal sums quantities per item ignoring price. Last resort.
	TierItemTotal
)

func (t Tier) String() string {
	switch t {
	case TierAuction:
		return "auction"
	case TierPriceBucket:
		return "price_bucket"
	case TierItemTotal:
		return "item_total"
	default:
		return "none"
	}
}

// InferSales diffs two normalized snapshots and emits the inferred sale
// events. The three tiers escalate: only the first tier that yields at least
// one event is used, so a cycle never double counts across tiers. Events are
// stamped with at (the diff's wall-clock time) because the upstream feed
// exposes no sale timestamps; a decrease is only known to have happened
// somewhere between the two polls.
func InferSales(prev, now []model.NormalizedListing, at time.Time) ([]model.SalesEvent, Tier) {
	if len(prev) == 0 {
		return nil, TierNone
	}

	if events := byAuction(prev, now, at); len(events) > 0 {
		return events, TierAuction
	}
	if events := byPriceBucket(prev, now, at); len(events) > 0 {
		return events, TierPriceBucket
	}
	if events := byItemTotal(prev, now, at); len(events) > 0 {
		return events, TierItemTotal
	}
	return nil, TierNone
}

func byAuction(prev, now []model.NormalizedListing, at time.Time) []model.SalesEvent {
	current := make(map[int64]model.NormalizedListing, len(now))
	for _, listing := range now {
		current[listing.AuctionID] = listing
	}

	var events []model.SalesEvent
	ts := at.Unix()

	for _, was := range prev {
		is, ok := current[was.AuctionID]
		if !ok {
			events = append(events, model.SalesEvent{T: ts, ItemID: was.ItemID, Quantity: was.Quantity})
			continue
		}
		if delta := was.Quantity - is.Quantity; delta > 0 {
			events = append(events, model.SalesEvent{T: ts, ItemID: was.ItemID, Quantity: delta})
		}
	}
	return events
}

type priceKey struct {
	itemID    int32
	unitPrice int64
}

func byPriceBucket(prev, now []model.NormalizedListing, at time.Time) []model.SalesEvent {
	before := make(map[priceKey]int64)
	for _, listing := range prev {
		before[priceKey{listing.ItemID, listing.UnitPrice}] += int64(listing.Quantity)
	}
	after := make(map[priceKey]int64)
	for _, listing := range now {
		after[priceKey{listing.ItemID, listing.UnitPrice}] += int64(listing.Quantity)
	}

	var events []model.SalesEvent
	ts := at.Unix()

	for key, was := range before {
		if delta := was - after[key]; delta > 0 {
			events = append(events, model.SalesEvent{T: ts, ItemID: key.itemID, Quantity: clampQty(delta)})
		}
	}
	return events
}

func byItemTotal(prev, now []model.NormalizedListing, at time.Time) []model.SalesEvent {
	before := make(map[int32]int64)
	for _, listing := range prev {
		before[listing.ItemID] += int64(listing.Quantity)
	}
	after := make(map[int32]int64)
	for _, listing := range now {
		after[listing.ItemID] += int64(listing.Quantity)
	}

	var events []model.SalesEvent
	ts := at.Unix()

	for itemID, was := range before {
		if delta := was - after[itemID]; delta > 0 {
			events = append(events, model.SalesEvent{T: ts, ItemID: itemID, Quantity: clampQty(delta)})
		}
	}
	return events
}

func clampQty(delta int64) int32 {
	if delta > int64(^uint32(0)>>1) {
		return int32(^uint32(0) >> 1)
	}
	return int32(delta)
}
