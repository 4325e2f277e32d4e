package model

import (
	"encoding/json"
	"time"
)

// RawSnapshot is one poll's worth of marketplace data, kept opaque until
// normalization. Either section may be absent depending on which feed
// produced the snapshot.
type RawSnapshot struct {
	Items            json.RawMessage `json:"items,omitempty"`
	Commodities      json.RawMessage `json:"commodities,omitempty"`
	ConnectedRealmID int             `json:"connectedRealmId,omitempty"`
	FetchedAt        time.Time       `json:"fetchedAt"`
}

// NormalizedListing is one sell order flattened out of a raw snapshot.
type NormalizedListing struct {
	AuctionID int64 `json:"auctionId"`
	ItemID    int32 `json:"itemId"`
	Quantity  int32 `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
}

// SalesEvent records that approximately Quantity units of an item left the
// market around time T (epoch seconds). Events are immutable once appended.
type SalesEvent struct {
	T        int64 `json:"t"`
	ItemID   int32 `json:"itemId"`
	Quantity int32 `json:"quantity"`
}

// ItemTotals accumulates inferred sales for one item inside a window.
type ItemTotals struct {
	Quantity int64 `json:"qty"`
	Count    int   `json:"count"`
}

// ItemStat is one ranked row of a stats window.
type ItemStat struct {
	ItemID     int32   `json:"itemId"`
	Quantity   int64   `json:"qty"`
	Count      int     `json:"count"`
	SoldPerDay float64 `json:"soldPerDay"`
}

// StatsWindowEntry is a pre-computed sold-per-day ranking for one window.
// Entries are replaced wholesale on rebuild, never mutated in place.
type StatsWindowEntry struct {
	WindowHours    int        `json:"windowHours"`
	Items          []ItemStat `json:"items"`
	BuiltAtVersion uint64     `json:"builtAtVersion"`
	BuiltAt        time.Time  `json:"builtAt"`
}

// PollFeedState tracks one polling feed's cadence and history. It is mutated
// only by that feed's scheduler loop.
type PollFeedState struct {
	Feed         string    `json:"feed"`
	IntervalSec  int       `json:"intervalSec"`
	LastPollAt   time.Time `json:"lastPollAt"`
	LastChangeAt time.Time `json:"lastChangeAt"`
	NextAt       time.Time `json:"nextAt"`
	PollCount    int64     `json:"pollCount"`
	ChangeCount  int64     `json:"changeCount"`
}
