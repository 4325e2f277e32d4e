package normalize

import (
	"encoding/json"
	"log"

	"auctionwatch/internal/model"
)

// rawListing tolerates the field-name permutations the upstream feed has been
// seen to produce. Pointer fields distinguish absent from zero.
type rawListing struct {
	ID        *int64 `json:"id"`
	AuctionID *int64 `json:"auctionId"`

	Item *struct {
		ID *int32 `json:"id"`
	} `json:"item"`
	ItemID      *int32 `json:"itemId"`
	ItemIDSnake *int32 `json:"item_id"`

	Quantity int32 `json:"quantity"`

	UnitPrice      *int64 `json:"unit_price"`
	Buyout         *int64 `json:"buyout"`
	UnitPriceCamel *int64 `json:"unitPrice"`
}

// Flatten turns a raw snapshot into the uniform listing set. Listings with a
// non-positive item id or quantity are dropped silently; individually
// malformed entries are logged and skipped, never propagated as errors.
func Flatten(snap *model.RawSnapshot) []model.NormalizedListing {
	if snap == nil {
		return nil
	}
	var out []model.NormalizedListing
	out = appendSection(out, snap.Items)
	out = appendSection(out, snap.Commodities)
	return out
}

func appendSection(out []model.NormalizedListing, section json.RawMessage) []model.NormalizedListing {
	entries := listingArray(section)
	malformed := 0

	for _, entry := range entries {
		var raw rawListing
		if err := json.Unmarshal(entry, &raw); err != nil {
			malformed++
			continue
		}

		listing := model.NormalizedListing{
			AuctionID: auctionID(&raw),
			ItemID:    itemID(&raw),
			Quantity:  raw.Quantity,
			UnitPrice: unitPrice(&raw),
		}
		if listing.ItemID <= 0 || listing.Quantity <= 0 {
			continue
		}
		out = append(out, listing)
	}

	if malformed > 0 {
		log.Printf("normalize: dropped %d malformed listings", malformed)
	}
	return out
}

// listingArray accepts either a bare array of listings or an object wrapping
// one under "auctions".
func listingArray(section json.RawMessage) []json.RawMessage {
	if len(section) == 0 {
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(section, &arr); err == nil {
		return arr
	}

	var wrapped struct {
		Auctions []json.RawMessage `json:"auctions"`
	}
	if err := json.Unmarshal(section, &wrapped); err == nil {
		return wrapped.Auctions
	}

	log.Printf("normalize: unrecognized snapshot section shape (%d bytes)", len(section))
	return nil
}

func auctionID(raw *rawListing) int64 {
	if raw.ID != nil {
		return *raw.ID
	}
	if raw.AuctionID != nil {
		return *raw.AuctionID
	}
	return 0
}

// itemID precedence: nested item.id, then itemId, then item_id.
func itemID(raw *rawListing) int32 {
	if raw.Item != nil && raw.Item.ID != nil {
		return *raw.Item.ID
	}
	if raw.ItemID != nil {
		return *raw.ItemID
	}
	if raw.ItemIDSnake != nil {
		return *raw.ItemIDSnake
	}
	return 0
}

// unitPrice precedence: unit_price, then buyout, then unitPrice.
func unitPrice(raw *rawListing) int64 {
	if raw.UnitPrice != nil {
		return *raw.UnitPrice
	}
	if raw.Buyout != nil {
		return *raw.Buyout
	}
	if raw.UnitPriceCamel != nil {
		return *raw.UnitPriceCamel
	}
	return 0
}
