package market

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"auctionwatch/internal/fetch"
	"auctionwatch/internal/model"
)

// Client wraps the conditional fetcher with the two auction endpoints this
// system polls: one connected realm's item auctions, and the region-wide
// commodity auctions.
type Client struct {
	fetcher          *fetch.Conditional
	baseURL          string
	connectedRealmID int
	namespace        string
	locale           string
}

// NewClient creates a marketplace API client for one connected realm.
func NewClient(fetcher *fetch.Conditional, baseURL string, connectedRealmID int) *Client {
	return &Client{
		fetcher:          fetcher,
		baseURL:          baseURL,
		connectedRealmID: connectedRealmID,
		namespace:        "dynamic-us",
		locale:           "en_US",
	}
}

// FetchRealmAuctions polls the item-listing feed for the configured realm.
// A nil snapshot with notModified=true means the server reported no change
// since the last poll.
func (c *Client) FetchRealmAuctions(ctx context.Context) (*model.RawSnapshot, bool, error) {
	endpoint := fmt.Sprintf("%s/data/wow/connected-realm/%d/auctions", c.baseURL, c.connectedRealmID)
	cacheKey := fmt.Sprintf("auctions:realm:%d", c.connectedRealmID)

	res, err := c.fetcher.Fetch(ctx, endpoint, c.params(), cacheKey)
	if err != nil {
		return nil, false, fmt.Errorf("fetching realm auctions: %w", err)
	}
	if res.NotModified {
		return nil, true, nil
	}

	return &model.RawSnapshot{
		Items:            res.Data,
		ConnectedRealmID: c.connectedRealmID,
		FetchedAt:        time.Now(),
	}, false, nil
}

// FetchCommodityAuctions polls the region-wide commodity feed.
func (c *Client) FetchCommodityAuctions(ctx context.Context) (*model.RawSnapshot, bool, error) {
	endpoint := c.baseURL + "/data/wow/auctions/commodities"

	res, err := c.fetcher.Fetch(ctx, endpoint, c.params(), "auctions:commodities")
	if err != nil {
		return nil, false, fmt.Errorf("fetching commodity auctions: %w", err)
	}
	if res.NotModified {
		return nil, true, nil
	}

	return &model.RawSnapshot{
		Commodities: res.Data,
		FetchedAt:   time.Now(),
	}, false, nil
}

func (c *Client) params() url.Values {
	params := url.Values{}
	params.Set("namespace", c.namespace)
	params.Set("locale", c.locale)
	return params
}
